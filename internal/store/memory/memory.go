// Package memory is an in-process store used by tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
)

var (
	_ store.Store     = (*Store)(nil)
	_ store.BlobStore = (*Store)(nil)
)

// Store keeps every record in mutex-guarded maps.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]chat.Chat
	messages map[string]chat.Message
	uploads  map[string]chat.Upload
	memories []chat.Memory
	keys     map[string]chat.APIKey
	blobs    map[string][]byte
}

// New returns an empty store.
func New() *Store {
	return &Store{
		chats:    make(map[string]chat.Chat),
		messages: make(map[string]chat.Message),
		uploads:  make(map[string]chat.Upload),
		keys:     make(map[string]chat.APIKey),
		blobs:    make(map[string][]byte),
	}
}

func (s *Store) CreateChat(_ context.Context, c chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
	return nil
}

func (s *Store) GetChat(_ context.Context, chatID, userID string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) UpdateChatName(_ context.Context, chatID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return store.ErrNotFound
	}
	c.Name = &name
	s.chats[chatID] = c
	return nil
}

func (s *Store) CreateMessage(_ context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Content = cloneSegments(m.Content)
	s.messages[m.ID] = m
	return nil
}

func (s *Store) ListMessages(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			m.Content = cloneSegments(m.Content)
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) UpdateMessageContent(_ context.Context, messageID string, content []chat.Segment, reasoning *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.Content = cloneSegments(content)
	m.Reasoning = reasoning
	s.messages[messageID] = m
	return nil
}

func (s *Store) SetMessageMemory(_ context.Context, messageID, memory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.UpdatedMemory = &memory
	s.messages[messageID] = m
	return nil
}

// Message returns a stored message by id, for inspection.
func (s *Store) Message(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

func (s *Store) CreateUpload(_ context.Context, u chat.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[u.ID] = u
	return nil
}

func (s *Store) ListUnattachedUploads(_ context.Context, userID string, chatID *string) ([]chat.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Upload, 0)
	for _, u := range s.uploads {
		if u.UserID != userID || u.IsSent || !sameChat(u.ChatID, chatID) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AttachUpload(_ context.Context, uploadID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return store.ErrNotFound
	}
	u.ChatID = &chatID
	u.IsSent = true
	s.uploads[uploadID] = u
	return nil
}

// Upload returns a stored upload by id, for inspection.
func (s *Store) Upload(id string) (chat.Upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	return u, ok
}

func (s *Store) CreateMemory(_ context.Context, m chat.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, m)
	return nil
}

func (s *Store) ListMemories(_ context.Context, userID string) ([]chat.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Memory, 0)
	for _, m := range s.memories {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) PutAPIKey(_ context.Context, k chat.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID(k.UserID, k.Provider)] = k
	return nil
}

func (s *Store) GetAPIKey(_ context.Context, userID, provider string) (*chat.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID(userID, provider)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &k, nil
}

func (s *Store) PutBlob(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (s *Store) ReadBlob(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func keyID(userID, provider string) string { return provider + "/" + userID }

func sameChat(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneSegments(in []chat.Segment) []chat.Segment {
	if in == nil {
		return nil
	}
	return append([]chat.Segment(nil), in...)
}
