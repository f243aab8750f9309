package docref

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/apperr"
)

var urlKeyPattern = regexp.MustCompile(`^url_[0-9a-f]{16}$`)

func TestFileKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"My Report.PDF", "my_report"},
		{"report.pdf", "report"},
		{"Q3-Summary v2.docx", "q3_summary_v2"},
		{"notes.txt", "notes"},
		{"sales.csv", "sales"},
		{"weird$name!.txt", "weirdname_"},
		{"already_snake.pdf", "already_snake"},
		{"Résumé.pdf", "résumé"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FileKey(tt.in))
		})
	}
}

func TestFileKey_CaseAndSeparatorsNormalise(t *testing.T) {
	t.Parallel()
	assert.Equal(t, FileKey("my report.pdf"), FileKey("MY-REPORT.PDF"))
}

func TestURLKey(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.com",
		"https://example.com/a?b=c",
		"http://localhost:8080/docs/index.html",
	}
	for _, u := range urls {
		k := URLKey(u)
		assert.Regexp(t, urlKeyPattern, k)
		assert.Equal(t, k, URLKey(u), "stable across calls")
	}
	assert.NotEqual(t, URLKey(urls[0]), URLKey(urls[1]))
	// md5("https://example.com") = c984d06aafbecf6bc55569f964148ea3
	assert.Equal(t, "url_c984d06aafbecf6b", URLKey("https://example.com"))
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		kind     Kind
		display  string
		tabular  bool
		key      string
		wantKind apperr.Kind
	}{
		{raw: "report.pdf", kind: KindPDF, display: "report.pdf", key: "report"},
		{raw: "Legacy.DOC", kind: KindDOCX, display: "Legacy.DOC", key: "legacy"},
		{raw: "sales.csv", kind: KindCSV, display: "sales.csv", tabular: true, key: "sales"},
		{raw: "/tmp/uploads/notes.txt", kind: KindTXT, display: "notes.txt", key: "notes"},
		{raw: "[URL] https://example.com", kind: KindURL, display: "[URL] https://example.com", key: "url_c984d06aafbecf6b"},
		{raw: "https://example.com", kind: KindURL, display: "[URL] https://example.com", key: "url_c984d06aafbecf6b"},
		{raw: "data.xlsx", wantKind: apperr.KindUnsupportedType},
		{raw: "   ", wantKind: apperr.KindPrecondition},
		{raw: "[URL] ftp://example.com", wantKind: apperr.KindPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			ref, err := Parse(tt.raw)
			if tt.wantKind != apperr.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ref.Kind())
			assert.Equal(t, tt.display, ref.Display())
			assert.Equal(t, tt.tabular, ref.IsTabular())
			assert.Equal(t, tt.key, ref.Key())
		})
	}
}

func TestParse_URLNeverTabular(t *testing.T) {
	t.Parallel()

	ref, err := Parse("https://example.com/export.csv")
	require.NoError(t, err)
	assert.True(t, ref.IsURL())
	assert.False(t, ref.IsTabular())
}
