package docxextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotDOCX        = errors.New("not an office open xml package")
	ErrMissingContent = errors.New("word/document.xml not found")
)

const documentPart = "word/document.xml"

// ExtractText returns the paragraph text of a DOCX package, one paragraph
// per line. Table cells are emitted as their own paragraphs.
func ExtractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read docx failed: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", ErrNotDOCX
	}

	for _, f := range zr.File {
		if f.Name != documentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s failed: %w", documentPart, err)
		}
		defer rc.Close()
		return parseDocument(rc)
	}
	return "", ErrMissingContent
}

func parseDocument(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out     strings.Builder
		para    strings.Builder
		inText  bool
		started bool
	)
	flush := func() {
		if started {
			out.WriteString("\n")
		}
		out.WriteString(para.String())
		para.Reset()
		started = true
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s failed: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	if para.Len() > 0 {
		flush()
	}
	return out.String(), nil
}
