package extract

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docchat-go/internal/document"
)

// extractPDF returns one segment per page, tagged with its 1-based page
// number. The parser panics on some malformed files, so panics are turned
// into errors.
func extractPDF(data []byte) (segs []document.Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf: open: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("pdf: page %d: %w", i, err)
		}
		segs = append(segs, document.Segment{
			Text:     text,
			Metadata: map[string]string{document.MetaPage: strconv.Itoa(i)},
		})
	}
	return segs, nil
}
