package document

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// utf8BOM is stripped from the start of decoded text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText decodes b as UTF-8 with an optional byte-order mark, falling
// back to Latin-1 (ISO 8859-1) when the bytes are not valid UTF-8. The
// second result reports whether the fallback was used.
func DecodeText(b []byte) (string, bool) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return string(b), false
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// ISO 8859-1 maps every byte, so this is unreachable in practice.
		return string(bytes.ToValidUTF8(b, []byte("�"))), true
	}
	return string(out), true
}
