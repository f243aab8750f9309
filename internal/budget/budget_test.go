package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/logging"
)

func TestHeuristic(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Heuristic(tc.input), "Heuristic(%q)", tc.input)
	}
}

func TestEstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// 4 overhead + 1 (role) + 2 (content), twice.
	assert.Equal(t, 14, EstimateMessages(Heuristic, msgs))
}

func TestTrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("there", nil)}
	assert.Len(t, TrimHistory(Heuristic, fixed, history, DefaultMaxContextTokens), 2)
}

func TestTrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{schema.UserMessage("oldest"), schema.UserMessage("newest")}
	// Each message costs 6; a budget of 7 fits exactly one.
	got := TrimHistory(Heuristic, nil, history, 7)
	require.Len(t, got, 1)
	assert.Equal(t, "newest", got[0].Content)
}

func TestTrimHistory_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, TrimHistory(Heuristic, []*schema.Message{schema.SystemMessage("sys")}, nil, DefaultMaxContextTokens))
}

func TestTrimHistory_FixedExceedsBudget(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("x", 4*7000))}
	history := []*schema.Message{schema.UserMessage("a"), schema.UserMessage("b")}
	assert.Empty(t, TrimHistory(Heuristic, fixed, history, 6000))
}

func TestTruncateToTokens(t *testing.T) {
	t.Parallel()

	short := "fits easily"
	assert.Equal(t, short, TruncateToTokens(Heuristic, short, 100))

	para := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	assert.Equal(t, strings.Repeat("a", 40), TruncateToTokens(Heuristic, para, 15))

	multi := strings.Repeat("é", 50)
	got := TruncateToTokens(Heuristic, multi, 5)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, Heuristic(got), 5)
}

func TestTiktoken_NeverZeroForText(t *testing.T) {
	t.Parallel()
	count := Tiktoken(logging.Discard())
	require.NotNil(t, count)
	assert.Positive(t, count("hello world"))
	assert.Zero(t, count(""))
}
