package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/document"
	"github.com/54b3r/docchat-go/internal/logging"
)

// systemPrompt fixes the assistant's grounding rules.
const systemPrompt = `You are a highly reliable RAG assistant. Your only job is to answer the user's question strictly using the information provided in the context.
Greet back if the user greets you with a 'hello' or something similar.

Instructions:
- Use only the information found in the context.
- If the answer cannot be found in the context, clearly state that the context does not provide the required information.
- Keep answers precise, concise, and factual.
- When possible, reference or quote specific portions of the context to support your answer.`

// contextSeparator joins retrieved segment bodies.
const contextSeparator = "\n\n"

// Result is the outcome of one Answer call. Err is set, and Text empty, when
// retrieval or generation failed; Segments holds whatever was retrieved.
type Result struct {
	// Text is the model's answer.
	Text string
	// Segments are the retrieved segments the answer was grounded on.
	Segments []document.Segment
	// Err is a Provider error from retrieval or generation.
	Err error
}

// Engine answers questions from a collection with one model call.
type Engine struct {
	// ChatModel generates the answer.
	ChatModel model.BaseChatModel
	// TopK is the number of segments retrieved (DefaultTopK when <= 0).
	TopK int
	// HistoryDepth is the number of most recent prior messages shown to the
	// model. Zero sends no history.
	HistoryDepth int
	// MaxContextTokens bounds the prompt; history is trimmed oldest-first
	// and then the context block is truncated to fit.
	// budget.DefaultMaxContextTokens when <= 0.
	MaxContextTokens int
	// Count estimates tokens; budget.Heuristic when nil.
	Count budget.Counter
}

// Answer retrieves the TopK segments for question from coll, which is
// independent of history, and asks the model to answer from them. A nil
// collection is a Precondition error; every other failure is reported in
// Result.Err.
func (e *Engine) Answer(ctx context.Context, coll Collection, question string, history []*schema.Message) (Result, error) {
	if coll == nil {
		return Result{}, apperr.Precondition("rag.Answer", "no collection loaded")
	}
	if e.ChatModel == nil {
		return Result{}, apperr.Precondition("rag.Answer", "no chat model configured")
	}
	log := logging.FromContext(ctx)
	start := time.Now()

	segs, err := coll.Retrieve(ctx, question, e.TopK)
	if err != nil {
		log.Warn("rag: retrieval failed", slog.Any("error", err))
		return Result{Err: asProvider("rag.Answer", err)}, nil
	}

	msgs := e.buildMessages(ctx, segs, question, history)
	out, err := e.ChatModel.Generate(ctx, msgs)
	if err != nil {
		log.Warn("rag: generation failed", slog.Any("error", err))
		return Result{Segments: segs, Err: apperr.Provider("rag.Answer", err)}, nil
	}

	log.Debug("rag: answered",
		slog.Int("segments", len(segs)),
		slog.Int("messages", len(msgs)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return Result{Text: strings.TrimSpace(out.Content), Segments: segs}, nil
}

// buildMessages lays out [system, ...history, user(context + question)].
func (e *Engine) buildMessages(ctx context.Context, segs []document.Segment, question string, history []*schema.Message) []*schema.Message {
	count := e.Count
	if count == nil {
		count = budget.Heuristic
	}
	maxTokens := e.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	bodies := make([]string, len(segs))
	for i, s := range segs {
		bodies[i] = s.Text
	}
	contextBlock := strings.Join(bodies, contextSeparator)

	system := schema.SystemMessage(systemPrompt)
	// Reserve room for the prompt frame and the question before sizing context.
	frame := []*schema.Message{system, schema.UserMessage(userPrompt("", question))}
	if room := maxTokens - budget.EstimateMessages(count, frame); count(contextBlock) > room {
		contextBlock = budget.TruncateToTokens(count, contextBlock, max(room, 1))
		logging.FromContext(ctx).Warn("budget: truncated retrieved context to fit context window",
			slog.Int("max_tokens", maxTokens))
	}
	user := schema.UserMessage(userPrompt(contextBlock, question))

	var prior []*schema.Message
	if e.HistoryDepth > 0 && len(history) > 0 {
		prior = history[max(0, len(history)-e.HistoryDepth):]
		before := len(prior)
		prior = budget.TrimHistory(count, []*schema.Message{system, user}, prior, maxTokens)
		if dropped := before - len(prior); dropped > 0 {
			logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
				slog.Int("dropped", dropped),
				slog.Int("retained", len(prior)),
				slog.Int("max_tokens", maxTokens),
			)
		}
	}

	msgs := make([]*schema.Message, 0, len(prior)+2)
	msgs = append(msgs, system)
	msgs = append(msgs, prior...)
	return append(msgs, user)
}

// userPrompt renders the grounding message.
func userPrompt(contextBlock, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nUser Question:\n%s\n\nAnswer:", contextBlock, question)
}

// asProvider keeps an already classified error and wraps anything else as a
// Provider error.
func asProvider(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Provider(op, err)
}
