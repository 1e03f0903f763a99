package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dermassist/internal/app"
	"dermassist/internal/model"
	"dermassist/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email,max=128"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	DisplayName string `json:"display_name" binding:"max=128"`
	SkinType    string `json:"skin_type" binding:"max=16"`
}

// LoginRequest accepts either a username or an email; username wins when
// both are sent.
type LoginRequest struct {
	Username string `json:"username" binding:"max=128"`
	Email    string `json:"email" binding:"max=128"`
	Password string `json:"password" binding:"required,max=128"`
}

type userView struct {
	ID          uint           `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	SkinType    model.SkinType `json:"skin_type"`
}

type authView struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), app.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		SkinType:    req.SkinType,
	})
	if err != nil {
		writeError(c, err, "register failed")
		return
	}
	response.OK(c, newAuthView(result))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	result, err := h.authService.Login(c.Request.Context(), app.LoginInput{
		Identifier: identifier,
		Password:   req.Password,
	})
	if err != nil {
		writeError(c, err, "login failed")
		return
	}
	response.OK(c, newAuthView(result))
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), userID)
	switch {
	case err != nil:
		writeError(c, err, "fetch current user failed")
	case user == nil:
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
	default:
		response.OK(c, newUserView(user))
	}
}

func newAuthView(result *app.AuthResult) authView {
	return authView{Token: result.Token, User: newUserView(result.User)}
}

func newUserView(u *model.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		SkinType:    u.SkinType,
	}
}
