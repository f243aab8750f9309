// Package llmtest provides deterministic in-process stand-ins for the
// embedding provider and the chat model, for tests that exercise the index,
// the answer engine, the tabular agent and the dispatcher without a live
// provider.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("llmtest: injected failure")

// Embedder hashes lower-cased words into Dim buckets, so texts sharing words
// have high cosine similarity. Safe for concurrent use.
type Embedder struct {
	// Dim is the vector size (default 64).
	Dim int
	// Fail makes every call return ErrInjected.
	Fail atomic.Bool

	calls atomic.Int64
	texts atomic.Int64
}

// Calls is the number of Embed invocations so far.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

// Texts is the number of texts embedded so far.
func (e *Embedder) Texts() int { return int(e.texts.Load()) }

// Model implements the embedder interface.
func (e *Embedder) Model() string { return "llmtest-embed" }

// Embed implements the embedder interface.
func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.Fail.Load() {
		return nil, ErrInjected
	}
	e.texts.Add(int64(len(texts)))
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%uint32(dim)]++
		}
		out[i] = v
	}
	return out, nil
}

// ReplyFunc produces the model output for the n-th call (0-based).
type ReplyFunc func(n int, input []*schema.Message) (*schema.Message, error)

// ChatModel is a scripted model.ToolCallingChatModel. Every call, including
// calls on models derived through WithTools, is recorded.
type ChatModel struct {
	// Reply answers each call. A nil Reply echoes "ok".
	Reply ReplyFunc

	mu    *sync.Mutex
	state *chatState
	tools []*schema.ToolInfo
}

type chatState struct {
	inputs [][]*schema.Message
	tools  []*schema.ToolInfo
}

// NewChatModel returns a ChatModel answering with reply.
func NewChatModel(reply ReplyFunc) *ChatModel {
	return &ChatModel{Reply: reply, mu: &sync.Mutex{}, state: &chatState{}}
}

// Text returns a ReplyFunc that always answers text.
func Text(text string) ReplyFunc {
	return func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

// Failing returns a ReplyFunc that always fails with ErrInjected.
func Failing() ReplyFunc {
	return func(int, []*schema.Message) (*schema.Message, error) { return nil, ErrInjected }
}

// Sequence returns a ReplyFunc that plays msgs in order and repeats the last.
func Sequence(msgs ...*schema.Message) ReplyFunc {
	return func(n int, _ []*schema.Message) (*schema.Message, error) {
		if len(msgs) == 0 {
			return schema.AssistantMessage("", nil), nil
		}
		return msgs[min(n, len(msgs)-1)], nil
	}
}

// ToolCall builds an assistant message requesting one tool call.
func ToolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

// Inputs returns a copy of every recorded input, in call order.
func (m *ChatModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.state.inputs))
	copy(out, m.state.inputs)
	return out
}

// Calls is the number of Generate and Stream calls so far.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.inputs)
}

// BoundTools returns the tools most recently bound through WithTools.
func (m *ChatModel) BoundTools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.tools
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	n := len(m.state.inputs)
	m.state.inputs = append(m.state.inputs, input)
	m.mu.Unlock()

	if m.Reply == nil {
		return schema.AssistantMessage("ok", nil), nil
	}
	return m.Reply(n, input)
}

// Stream implements model.BaseChatModel with a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

// WithTools implements model.ToolCallingChatModel. The returned model shares
// the script and the call record.
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.state.tools = tools
	m.mu.Unlock()
	return &ChatModel{Reply: m.Reply, mu: m.mu, state: m.state, tools: tools}, nil
}
