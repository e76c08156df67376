// Package store defines the durable persistence contracts consumed by the
// completion pipeline. Implementations live in the memory, mongo and sqlstore
// subpackages.
package store

import (
	"context"
	"errors"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// ChatStore persists chats.
type ChatStore interface {
	CreateChat(ctx context.Context, c chat.Chat) error
	// GetChat returns the chat only when it is owned by userID.
	GetChat(ctx context.Context, chatID, userID string) (*chat.Chat, error)
	UpdateChatName(ctx context.Context, chatID, name string) error
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m chat.Message) error
	// ListMessages returns the chat history ordered by ascending timestamp.
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
	// UpdateMessageContent replaces content and reasoning in a single write.
	UpdateMessageContent(ctx context.Context, messageID string, content []chat.Segment, reasoning *string) error
	// SetMessageMemory writes only the updated_memory field.
	SetMessageMemory(ctx context.Context, messageID, memory string) error
}

// UploadStore persists upload metadata.
type UploadStore interface {
	CreateUpload(ctx context.Context, u chat.Upload) error
	// ListUnattachedUploads returns the user's unsent uploads whose chat id
	// equals chatID. A nil chatID matches uploads not yet bound to any chat.
	ListUnattachedUploads(ctx context.Context, userID string, chatID *string) ([]chat.Upload, error)
	// AttachUpload binds the upload to chatID and marks it sent.
	AttachUpload(ctx context.Context, uploadID, chatID string) error
}

// MemoryStore persists user memories.
type MemoryStore interface {
	CreateMemory(ctx context.Context, m chat.Memory) error
	ListMemories(ctx context.Context, userID string) ([]chat.Memory, error)
}

// KeyStore persists encrypted provider credentials.
type KeyStore interface {
	PutAPIKey(ctx context.Context, k chat.APIKey) error
	GetAPIKey(ctx context.Context, userID, provider string) (*chat.APIKey, error)
}

// Store aggregates every record store.
type Store interface {
	ChatStore
	MessageStore
	UploadStore
	MemoryStore
	KeyStore
}

// BlobStore holds upload bytes keyed by upload id.
type BlobStore interface {
	PutBlob(ctx context.Context, id string, data []byte) error
	ReadBlob(ctx context.Context, id string) ([]byte, error)
}
