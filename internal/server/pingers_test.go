package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/llmtest"
)

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func TestStorePinger(t *testing.T) {
	t.Parallel()
	ok := NewStorePinger("sqlite", fakeStore{})
	assert.Equal(t, "sqlite", ok.Name())
	require.NoError(t, ok.Ping(context.Background()))

	down := NewStorePinger("qdrant", fakeStore{err: errors.New("refused")})
	err := down.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant ping failed")
}

func TestLLMPinger_PrefersHealthCheck(t *testing.T) {
	t.Parallel()
	m := llmtest.NewChatModel(nil)

	p := NewLLMPinger(m, fakeHealth{}, "ollama")
	require.NoError(t, p.Ping(context.Background()))
	assert.Zero(t, m.Calls(), "health check must not burn tokens")

	p = NewLLMPinger(m, fakeHealth{err: errors.New("down")}, "ollama")
	require.Error(t, p.Ping(context.Background()))
}

func TestLLMPinger_GenerateFallback(t *testing.T) {
	t.Parallel()
	m := llmtest.NewChatModel(nil)
	require.NoError(t, NewLLMPinger(m, nil, "gemini").Ping(context.Background()))
	assert.Equal(t, 1, m.Calls())

	failing := llmtest.NewChatModel(llmtest.Failing())
	require.ErrorIs(t, NewLLMPinger(failing, nil, "gemini").Ping(context.Background()), llmtest.ErrInjected)
}

func TestMultiPinger_StorePingers(t *testing.T) {
	t.Parallel()
	mp := NewMultiPinger(NewStorePinger("sqlite", fakeStore{}), NewStorePinger("qdrant", fakeStore{err: errors.New("x")}))
	err := mp.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant")
}
