package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/54b3r/docchat-go/internal/document"
)

// docxBody mirrors the parts of word/document.xml that carry text.
type docxBody struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
				Tabs []struct{} `xml:"tab"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// extractDOCX returns the document body as one segment, one paragraph per
// line.
func extractDOCX(data []byte) ([]document.Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx: not a zip archive: %w", err)
	}

	var raw []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("docx: open %s: %w", f.Name, err)
		}
		raw, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("docx: read %s: %w", f.Name, err)
		}
		break
	}
	if raw == nil {
		return nil, fmt.Errorf("docx: word/document.xml missing")
	}

	var doc docxBody
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docx: parse document.xml: %w", err)
	}

	var b strings.Builder
	for i, p := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, r := range p.Runs {
			for range r.Tabs {
				b.WriteByte('\t')
			}
			for _, t := range r.Text {
				b.WriteString(t.Content)
			}
		}
	}
	return []document.Segment{{Text: strings.TrimSpace(b.String())}}, nil
}
