// Package docref classifies user-supplied document references and derives
// the collection key that joins a document to its embedding index, its
// table and its conversation memory.
package docref

import (
	"crypto/md5" //nolint:gosec // key derivation, not security
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/54b3r/docchat-go/internal/apperr"
)

// URLPrefix tags URL entries in document listings.
const URLPrefix = "[URL] "

// Kind is the closed set of document types.
type Kind string

const (
	// KindPDF is a PDF file.
	KindPDF Kind = "pdf"
	// KindDOCX is a Word document; legacy .doc names map here too.
	KindDOCX Kind = "docx"
	// KindTXT is a plain-text file.
	KindTXT Kind = "txt"
	// KindCSV is a CSV file, answered by the tabular agent.
	KindCSV Kind = "csv"
	// KindURL is a web page.
	KindURL Kind = "url"
)

// extensions maps lower-cased file extensions to kinds.
var extensions = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".doc":  KindDOCX,
	".txt":  KindTXT,
	".csv":  KindCSV,
}

// Ref is a classified document reference: either a file (Name set) or a
// URL (Address set). Construct with [Parse], [File] or [URL].
type Ref struct {
	kind    Kind
	name    string
	address string
}

// Parse classifies raw. "[URL] <addr>" and bare http(s) addresses become URL
// refs, anything else is a file name classified by extension.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, apperr.Precondition("docref.Parse", "empty document reference")
	}
	if addr, ok := strings.CutPrefix(raw, URLPrefix); ok {
		return URL(strings.TrimSpace(addr))
	}
	if IsURL(raw) {
		return URL(raw)
	}
	return File(raw)
}

// File classifies a file name by its extension. Directory components are
// dropped.
func File(name string) (Ref, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Ref{}, apperr.Precondition("docref.File", "empty file name")
	}
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := extensions[ext]
	if !ok {
		return Ref{}, apperr.Unsupported("docref.File", "unsupported file type %q for %q", ext, name)
	}
	return Ref{kind: kind, name: name}, nil
}

// URL builds a URL ref. Only http and https addresses are accepted.
func URL(address string) (Ref, error) {
	if !IsURL(address) {
		return Ref{}, apperr.Precondition("docref.URL", "invalid URL %q: must start with http:// or https://", address)
	}
	return Ref{kind: KindURL, address: address}, nil
}

// IsURL reports whether s starts with an http or https scheme.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Kind returns the document type.
func (r Ref) Kind() Kind { return r.kind }

// IsURL reports whether r is a URL reference.
func (r Ref) IsURL() bool { return r.kind == KindURL }

// IsTabular reports whether r is routed to the tabular agent.
func (r Ref) IsTabular() bool { return r.kind == KindCSV }

// Name is the file name, empty for URLs.
func (r Ref) Name() string { return r.name }

// Address is the URL, empty for files.
func (r Ref) Address() string { return r.address }

// Display is the listing form: the file name, or "[URL] <address>".
func (r Ref) Display() string {
	if r.IsURL() {
		return URLPrefix + r.address
	}
	return r.name
}

// String implements fmt.Stringer.
func (r Ref) String() string { return r.Display() }

// Key derives the collection key. See [Key].
func (r Ref) Key() string {
	if r.IsURL() {
		return URLKey(r.address)
	}
	return FileKey(r.name)
}

// URLKey is "url_" followed by the first 16 hex characters of the MD5 of
// the address.
func URLKey(address string) string {
	sum := md5.Sum([]byte(address)) //nolint:gosec // not a security boundary
	return "url_" + hex.EncodeToString(sum[:])[:16]
}

// FileKey strips the extension, maps whitespace and punctuation to "_",
// lower-cases, and drops anything that is not a letter, digit or "_".
//
//	FileKey("My Report.PDF") == "my_report"
//
// Distinct names can collide (e.g. "a-b.pdf" and "a b.txt"); keys are kept
// stable for on-disk compatibility.
func FileKey(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		switch {
		case unicode.IsSpace(r), unicode.IsPunct(r) && r != '_':
			b.WriteByte('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
