package rag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMaxUploadBytes = 10 << 20 // 10 MB

var extensionTypes = map[string]string{
	".pdf":  MIMEPDF,
	".docx": MIMEDOCX,
	".doc":  MIMEDOC,
	".txt":  MIMEText,
}

// UploadPolicy is the set of types and the size cap an upload route accepts.
type UploadPolicy struct {
	AllowedTypes []string
	MaxBytes     int64
}

func PDFOnlyPolicy(maxBytes int64) UploadPolicy {
	return UploadPolicy{AllowedTypes: []string{MIMEPDF}, MaxBytes: maxBytes}
}

func DocumentPolicy(maxBytes int64) UploadPolicy {
	return UploadPolicy{AllowedTypes: []string{MIMEPDF, MIMEDOCX, MIMEDOC, MIMEText}, MaxBytes: maxBytes}
}

// Upload describes a received file before anything is stored. Head holds
// the first bytes of the content for type sniffing.
type Upload struct {
	Filename     string
	DeclaredType string
	Size         int64
	Head         []byte
}

// Validate checks presence, size and type, and returns the resolved MIME
// type. A missing or generic declared type is resolved by sniffing the
// content, then by file extension.
func (p UploadPolicy) Validate(u Upload) (string, error) {
	if strings.TrimSpace(u.Filename) == "" || u.Size <= 0 {
		return "", &ValidationError{Field: "file", Reason: "no file uploaded"}
	}
	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if u.Size > maxBytes {
		return "", &ValidationError{Field: "file", Reason: fmt.Sprintf("file too large (max %dMB)", maxBytes>>20)}
	}

	mt := p.resolveType(u)
	if mt == "" || !p.allows(mt) {
		return "", &ValidationError{Field: "file", Reason: "invalid file type, allowed: " + p.describe()}
	}
	return mt, nil
}

func (p UploadPolicy) resolveType(u Upload) string {
	declared := BaseMIMEType(u.DeclaredType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(u.Head) > 0 {
		detected := mimetype.Detect(u.Head)
		for _, allowed := range p.AllowedTypes {
			if detected.Is(allowed) {
				return allowed
			}
		}
	}
	return extensionTypes[strings.ToLower(filepath.Ext(u.Filename))]
}

func (p UploadPolicy) allows(mt string) bool {
	for _, allowed := range p.AllowedTypes {
		if allowed == mt {
			return true
		}
	}
	return false
}

func (p UploadPolicy) describe() string {
	names := make([]string, 0, len(p.AllowedTypes))
	for ext, mt := range extensionTypes {
		if p.allows(mt) {
			names = append(names, strings.TrimPrefix(ext, "."))
		}
	}
	if len(names) == 0 {
		return strings.Join(p.AllowedTypes, ", ")
	}
	sort.Strings(names)
	return strings.ToUpper(strings.Join(names, ", "))
}
