// Package memory persists per-document, per-session conversation history as
// one JSON file per (collection key, session) pair. Reads never fail: a
// missing or unreadable record is an empty conversation. Writes are logged
// and swallowed so a chat still answers when its history cannot be saved.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/logging"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the person asking questions.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the RAG engine or the SQL agent.
	RoleAssistant Role = "assistant"
)

// fileSuffix ends every record file name.
const fileSuffix = "_memory.json"

// corruptSuffix ends a record that failed to decode and was set aside.
const corruptSuffix = ".corrupt"

// Message is a single turn in a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// Sources holds the supporting text an assistant answer was grounded on.
	Sources []string `json:"sources,omitempty"`
}

// State summarises one conversation record.
type State struct {
	// Messages is the number of stored messages.
	Messages int `json:"messages"`
	// LastUpdated is the modification time of the record, or now when the
	// record does not exist yet.
	LastUpdated time.Time `json:"last_updated"`
	// SessionID is the session the record belongs to.
	SessionID string `json:"session_id"`
	// Collection is the collection key the record belongs to.
	Collection string `json:"collection"`
}

// Store keeps conversation records under a single directory.
type Store struct {
	// dir holds one file per (key, session).
	dir string

	// mu guards locks.
	mu sync.Mutex
	// locks serialises read-modify-write cycles per record file.
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("memory: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("memory: create %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the directory holding the record files.
func (s *Store) Dir() string { return s.dir }

// FileName returns the record file name for (key, session). Path separators
// in the session are replaced so a session can never escape the directory.
func FileName(key, session string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(session)
	return key + "_" + safe + fileSuffix
}

func (s *Store) path(key, session string) string {
	return filepath.Join(s.dir, FileName(key, session))
}

// lock returns the mutex for one record file, creating it on first use.
func (s *Store) lock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[path]
	if !ok {
		m = &sync.Mutex{}
		s.locks[path] = m
	}
	return m
}

// Load returns the conversation for (key, session) in insertion order.
func (s *Store) Load(ctx context.Context, key, session string) []Message {
	p := s.path(key, session)
	m := s.lock(p)
	m.Lock()
	defer m.Unlock()
	return s.read(ctx, p)
}

// read decodes the record at p. Callers hold the record lock.
func (s *Store) read(ctx context.Context, p string) []Message {
	msgs, _ := s.decode(ctx, p)
	return msgs
}

// decode is read that also reports whether p held undecodable data.
func (s *Store) decode(ctx context.Context, p string) ([]Message, bool) {
	raw, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.FromContext(ctx).Warn("memory: read failed", slog.String("path", p), slog.Any("error", err))
		}
		return []Message{}, false
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		logging.FromContext(ctx).Warn("memory: corrupt record ignored", slog.String("path", p), slog.Any("error", err))
		return []Message{}, true
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, false
}

// setAside renames a corrupt record to a timestamped .corrupt file so the
// next write does not destroy it.
func (s *Store) setAside(ctx context.Context, p string) {
	dst := fmt.Sprintf("%s.%s%s", p, time.Now().UTC().Format("20060102T150405.000000000"), corruptSuffix)
	if err := os.Rename(p, dst); err != nil {
		logging.FromContext(ctx).Warn("memory: could not keep corrupt record", slog.String("path", p), slog.Any("error", err))
		return
	}
	logging.FromContext(ctx).Warn("memory: corrupt record kept", slog.String("path", dst))
}

// Append adds msg to the end of the conversation for (key, session). A
// corrupt record is set aside and the conversation restarts from msg.
func (s *Store) Append(ctx context.Context, key, session string, msg Message) {
	p := s.path(key, session)
	m := s.lock(p)
	m.Lock()
	defer m.Unlock()

	msgs, corrupt := s.decode(ctx, p)
	if corrupt {
		s.setAside(ctx, p)
	}
	s.write(ctx, p, append(msgs, msg))
}

// Save overwrites the conversation for (key, session) with msgs.
func (s *Store) Save(ctx context.Context, key, session string, msgs []Message) {
	p := s.path(key, session)
	m := s.lock(p)
	m.Lock()
	defer m.Unlock()
	if msgs == nil {
		msgs = []Message{}
	}
	s.write(ctx, p, msgs)
}

// Clear removes the record for (key, session). Clearing an absent record is
// a no-op.
func (s *Store) Clear(ctx context.Context, key, session string) {
	p := s.path(key, session)
	m := s.lock(p)
	m.Lock()
	defer m.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.FromContext(ctx).Warn("memory: clear failed", slog.String("path", p), slog.Any("error", err))
	}
}

// Recent returns the last n messages, oldest first. n <= 0 returns nothing.
func (s *Store) Recent(ctx context.Context, key, session string, n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	msgs := s.Load(ctx, key, session)
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

// Exists reports whether a record file is present for (key, session).
func (s *Store) Exists(key, session string) bool {
	_, err := os.Stat(s.path(key, session))
	return err == nil
}

// Snapshot reports the current state of the record for (key, session).
func (s *Store) Snapshot(ctx context.Context, key, session string) State {
	p := s.path(key, session)
	m := s.lock(p)
	m.Lock()
	defer m.Unlock()

	st := State{
		Messages:    len(s.read(ctx, p)),
		LastUpdated: time.Now().UTC(),
		SessionID:   session,
		Collection:  key,
	}
	if info, err := os.Stat(p); err == nil {
		st.LastUpdated = info.ModTime().UTC()
	}
	return st
}

// write replaces the record at p through a temp file and rename. Callers
// hold the record lock.
func (s *Store) write(ctx context.Context, p string, msgs []Message) {
	if err := writeFile(s.dir, p, msgs); err != nil {
		logging.FromContext(ctx).Warn("memory: write failed, conversation not persisted",
			slog.String("path", p), slog.Any("error", err))
	}
}

func writeFile(dir, p string, msgs []Message) (err error) {
	raw, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		return fmt.Errorf("memory: temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("memory: write: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("memory: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}

// ToSchema converts stored messages to chat messages, oldest first. Sources
// are not replayed to the model.
func ToSchema(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}
