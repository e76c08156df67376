package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
)

func TestGetChatEnforcesOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateChat(ctx, chat.Chat{ID: "c1", UserID: "u1"}))

	c, err := s.GetChat(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Equal(t, "c1", c.ID)

	_, err = s.GetChat(ctx, "c1", "u2")
	require.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.UpdateChatName(ctx, "c1", "Laptop Recommendations"))
	c, _ = s.GetChat(ctx, "c1", "u1")
	require.Equal(t, "Laptop Recommendations", *c.Name)
}

func TestListMessagesAscending(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	require.NoError(t, s.CreateMessage(ctx, chat.Message{ID: "b", ChatID: "c", Timestamp: base.Add(time.Second)}))
	require.NoError(t, s.CreateMessage(ctx, chat.Message{ID: "a", ChatID: "c", Timestamp: base}))
	require.NoError(t, s.CreateMessage(ctx, chat.Message{ID: "x", ChatID: "other", Timestamp: base}))

	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)
}

func TestContentAndMemoryFieldsAreDisjoint(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, chat.Message{ID: "m", ChatID: "c", Role: chat.RoleAssistant}))

	require.NoError(t, s.SetMessageMemory(ctx, "m", "likes go"))
	reasoning := "thought"
	require.NoError(t, s.UpdateMessageContent(ctx, "m", []chat.Segment{chat.Text("hi")}, &reasoning))

	m, ok := s.Message("m")
	require.True(t, ok)
	require.Equal(t, "hi", m.TextContent())
	require.Equal(t, "thought", *m.Reasoning)
	require.Equal(t, "likes go", *m.UpdatedMemory)

	require.ErrorIs(t, s.SetMessageMemory(ctx, "missing", "x"), store.ErrNotFound)
}

func TestUnattachedUploadsMatchChatID(t *testing.T) {
	s := New()
	ctx := context.Background()
	chatID := "c1"
	require.NoError(t, s.CreateUpload(ctx, chat.Upload{ID: "1", UserID: "u", ContentType: "image/png"}))
	require.NoError(t, s.CreateUpload(ctx, chat.Upload{ID: "2", UserID: "u", ChatID: &chatID, ContentType: "application/pdf"}))
	require.NoError(t, s.CreateUpload(ctx, chat.Upload{ID: "3", UserID: "other"}))

	fresh, err := s.ListUnattachedUploads(ctx, "u", nil)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, "1", fresh[0].ID)

	bound, err := s.ListUnattachedUploads(ctx, "u", &chatID)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	require.Equal(t, "2", bound[0].ID)

	require.NoError(t, s.AttachUpload(ctx, "1", chatID))
	u, _ := s.Upload("1")
	require.True(t, u.IsSent)
	require.Equal(t, chatID, *u.ChatID)

	fresh, _ = s.ListUnattachedUploads(ctx, "u", nil)
	require.Empty(t, fresh)
}

func TestKeysMemoriesBlobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetAPIKey(ctx, "u", "openrouter")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.PutAPIKey(ctx, chat.APIKey{ID: "k", UserID: "u", Provider: "openrouter", Key: "sealed"}))
	k, err := s.GetAPIKey(ctx, "u", "openrouter")
	require.NoError(t, err)
	require.Equal(t, "sealed", k.Key)

	require.NoError(t, s.CreateMemory(ctx, chat.Memory{ID: "m1", UserID: "u", Content: "a"}))
	require.NoError(t, s.CreateMemory(ctx, chat.Memory{ID: "m2", UserID: "v", Content: "b"}))
	mems, _ := s.ListMemories(ctx, "u")
	require.Len(t, mems, 1)

	require.NoError(t, s.PutBlob(ctx, "1", []byte{1, 2, 3}))
	b, err := s.ReadBlob(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
	_, err = s.ReadBlob(ctx, "2")
	require.ErrorIs(t, err, store.ErrNotFound)
}
