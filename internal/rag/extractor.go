package rag

import (
	"context"
	"errors"
	"io"
	"mime"
	"regexp"
	"strings"

	"dermassist/internal/pkg/docxextract"
	"dermassist/internal/pkg/pdfextract"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEDOC  = "application/msword"
	MIMEText = "text/plain"
)

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

// Extractor turns an uploaded file into normalised plain text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads r as mimeType. The result has LF line endings, no runs of
// more than one blank line and no surrounding whitespace. Files that parse
// but contain no text fail with an ExtractionError.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	mt := BaseMIMEType(mimeType)

	var (
		text string
		err  error
	)
	switch mt {
	case MIMEPDF:
		text, err = pdfextract.ExtractText(ctx, r)
		if err != nil {
			return "", &ExtractionError{MIMEType: mt, Reason: "unreadable pdf", Err: err}
		}
	case MIMEDOCX:
		text, err = docxextract.ExtractText(r)
		if err != nil {
			return "", &ExtractionError{MIMEType: mt, Reason: "unreadable docx", Err: err}
		}
	case MIMEDOC:
		// Only .doc files that are really OOXML packages can be read.
		text, err = docxextract.ExtractText(r)
		if errors.Is(err, docxextract.ErrNotDOCX) {
			return "", &ExtractionError{MIMEType: mt, Reason: "legacy binary word documents are not supported, save as .docx"}
		}
		if err != nil {
			return "", &ExtractionError{MIMEType: mt, Reason: "unreadable word document", Err: err}
		}
	case MIMEText:
		b, readErr := io.ReadAll(r)
		if readErr != nil {
			return "", &ExtractionError{MIMEType: mt, Reason: "read failed", Err: readErr}
		}
		text = strings.ToValidUTF8(string(b), "�")
	default:
		return "", &UnsupportedTypeError{MIMEType: mimeType}
	}

	text = NormalizeText(text)
	if text == "" {
		return "", &ExtractionError{MIMEType: mt, Reason: "no extractable text (scanned or empty document?)"}
	}
	return text, nil
}

func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// BaseMIMEType lowercases a media type and drops its parameters.
func BaseMIMEType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(v, ";", 2)[0]))
	}
	return mt
}
