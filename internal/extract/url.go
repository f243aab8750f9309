package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/54b3r/docchat-go/internal/docref"
	"github.com/54b3r/docchat-go/internal/document"
)

// ErrFetch marks failures to retrieve a URL source.
var ErrFetch = errors.New("fetch failed")

// FetchError describes an unreachable or failing URL.
type FetchError struct {
	// URL is the address that was requested.
	URL string
	// Status is the HTTP status, zero when no response arrived.
	Status int
	// Err is the transport error, nil for bad statuses.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Unwrap returns the transport error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// extractURL fetches a page and reduces it to visible text. Non-HTML bodies
// are used as plain text.
func (l *Loader) extractURL(ctx context.Context, address string) ([]document.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, &FetchError{URL: address, Err: err}
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: address, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBytes))
	if err != nil {
		return nil, &FetchError{URL: address, Status: resp.StatusCode, Err: err}
	}

	seg := document.Segment{Metadata: map[string]string{}}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" || strings.Contains(mediaType, "html") {
		title, text, err := htmlText(string(body))
		if err != nil {
			return nil, fmt.Errorf("extract: parse %s: %w", address, err)
		}
		seg.Text = text
		if title != "" {
			seg.Metadata[document.MetaTitle] = title
		}
	} else {
		seg.Text, _ = document.DecodeText(body)
	}

	return finalize([]document.Segment{seg}, address, docref.KindURL), nil
}

// skipped elements never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

// blocks end a line of text.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// htmlText returns the page title and its visible text, one block per line.
func htmlText(src string) (string, string, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", "", err
	}

	var (
		title string
		b     strings.Builder
		atEOL = true
		walk  func(n *html.Node)
	)
	newline := func() {
		if !atEOL {
			b.WriteByte('\n')
			atEOL = true
		}
	}
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if n.DataAtom == atom.Title {
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skipped[n.DataAtom] {
				return
			}
		case html.TextNode:
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if !atEOL {
					b.WriteByte(' ')
				}
				b.WriteString(t)
				atEOL = false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			newline()
		}
	}
	walk(root)
	return title, strings.TrimSpace(b.String()), nil
}
