// Package mongo implements store.Store and store.BlobStore on MongoDB, with
// upload bytes held in a GridFS bucket.
package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
)

const (
	DefaultDatabase  = "chat"
	attachmentBucket = "attachments"
	defaultOpTimeout = 5 * time.Second
)

var (
	_ store.Store     = (*Store)(nil)
	_ store.BlobStore = (*Store)(nil)
)

// Options configures the Mongo store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store is the Mongo-backed record and blob store.
type Store struct {
	client   *mongodriver.Client
	chats    *mongodriver.Collection
	messages *mongodriver.Collection
	uploads  *mongodriver.Collection
	memories *mongodriver.Collection
	keys     *mongodriver.Collection
	bucket   *mongodriver.GridFSBucket
	timeout  time.Duration
}

// NewID returns a fresh ObjectID in hex form, the id format this store keys
// documents by.
func NewID() string { return bson.NewObjectID().Hex() }

// Connect dials uri and opens the store on the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	s, err := New(ctx, Options{Client: client, Database: database})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps an existing client and ensures indexes.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		client:   opts.Client,
		chats:    db.Collection("chats"),
		messages: db.Collection("messages"),
		uploads:  db.Collection("uploads"),
		memories: db.Collection("memories"),
		keys:     db.Collection("keys"),
		bucket:   db.GridFSBucket(options.GridFSBucket().SetName(attachmentBucket)),
		timeout:  opts.Timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	indexes := []struct {
		coll *mongodriver.Collection
		keys bson.D
	}{
		{s.messages, bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{s.memories, bson.D{{Key: "user_id", Value: 1}}},
		{s.uploads, bson.D{{Key: "user_id", Value: 1}, {Key: "chat_id", Value: 1}, {Key: "is_sent", Value: 1}}},
		{s.keys, bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{Keys: idx.keys}); err != nil {
			return fmt.Errorf("mongo: create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// oid maps a hex id onto an ObjectID; other ids are stored as plain strings.
func oid(id string) any {
	if v, err := bson.ObjectIDFromHex(id); err == nil {
		return v
	}
	return id
}

func idString(v any) string {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

type chatDocument struct {
	ID        any       `bson:"_id"`
	Name      *string   `bson:"name,omitempty"`
	UserID    any       `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
}

func (d chatDocument) toChat() chat.Chat {
	return chat.Chat{ID: idString(d.ID), Name: d.Name, UserID: idString(d.UserID), Timestamp: d.Timestamp}
}

type segmentDocument struct {
	Type  string `bson:"type"`
	Value string `bson:"value,omitempty"`
	ID    any    `bson:"id,omitempty"`
}

type messageDocument struct {
	ID            any               `bson:"_id"`
	ChatID        any               `bson:"chat_id"`
	Content       []segmentDocument `bson:"content"`
	Role          string            `bson:"role"`
	Reasoning     *string           `bson:"reasoning,omitempty"`
	Model         *string           `bson:"model,omitempty"`
	UpdatedMemory *string           `bson:"updated_memory,omitempty"`
	Timestamp     time.Time         `bson:"timestamp"`
}

func toSegmentDocuments(in []chat.Segment) []segmentDocument {
	out := make([]segmentDocument, 0, len(in))
	for _, seg := range in {
		doc := segmentDocument{Type: string(seg.Type), Value: seg.Value}
		if seg.ID != "" {
			doc.ID = oid(seg.ID)
		}
		out = append(out, doc)
	}
	return out
}

func (d messageDocument) toMessage() chat.Message {
	content := make([]chat.Segment, 0, len(d.Content))
	for _, seg := range d.Content {
		content = append(content, chat.Segment{Type: chat.SegmentType(seg.Type), Value: seg.Value, ID: idString(seg.ID)})
	}
	return chat.Message{
		ID:            idString(d.ID),
		ChatID:        idString(d.ChatID),
		Content:       content,
		Role:          chat.Role(d.Role),
		Reasoning:     d.Reasoning,
		Model:         d.Model,
		UpdatedMemory: d.UpdatedMemory,
		Timestamp:     d.Timestamp,
	}
}

type uploadDocument struct {
	ID          any    `bson:"_id"`
	ChatID      any    `bson:"chat_id"`
	UserID      any    `bson:"user_id"`
	ContentType string `bson:"content_type"`
	IsSent      bool   `bson:"is_sent"`
}

func (d uploadDocument) toUpload() chat.Upload {
	u := chat.Upload{ID: idString(d.ID), UserID: idString(d.UserID), ContentType: d.ContentType, IsSent: d.IsSent}
	if d.ChatID != nil {
		id := idString(d.ChatID)
		u.ChatID = &id
	}
	return u
}

type memoryDocument struct {
	ID      any    `bson:"_id"`
	UserID  any    `bson:"user_id"`
	Content string `bson:"content"`
}

type keyDocument struct {
	ID       any    `bson:"_id"`
	Provider string `bson:"provider"`
	Key      string `bson:"key"`
	UserID   any    `bson:"user_id"`
}

func (s *Store) CreateChat(ctx context.Context, c chat.Chat) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := chatDocument{ID: oid(c.ID), Name: c.Name, UserID: oid(c.UserID), Timestamp: c.Timestamp.UTC()}
	if _, err := s.chats.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert chat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc chatDocument
	err := s.chats.FindOne(ctx, bson.M{"_id": oid(chatID), "user_id": oid(userID)}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: find chat: %w", err)
	}
	c := doc.toChat()
	return &c, nil
}

func (s *Store) UpdateChatName(ctx context.Context, chatID, name string) error {
	return s.updateOne(ctx, s.chats, chatID, bson.M{"$set": bson.M{"name": name}})
}

func (s *Store) CreateMessage(ctx context.Context, m chat.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := messageDocument{
		ID:            oid(m.ID),
		ChatID:        oid(m.ChatID),
		Content:       toSegmentDocuments(m.Content),
		Role:          string(m.Role),
		Reasoning:     m.Reasoning,
		Model:         m.Model,
		UpdatedMemory: m.UpdatedMemory,
		Timestamp:     m.Timestamp.UTC(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.messages.Find(ctx, bson.M{"chat_id": oid(chatID)}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: find messages: %w", err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode messages: %w", err)
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	return out, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, messageID string, content []chat.Segment, reasoning *string) error {
	set := bson.M{"content": toSegmentDocuments(content)}
	update := bson.M{"$set": set}
	if reasoning != nil {
		set["reasoning"] = *reasoning
	} else {
		update["$unset"] = bson.M{"reasoning": ""}
	}
	return s.updateOne(ctx, s.messages, messageID, update)
}

func (s *Store) SetMessageMemory(ctx context.Context, messageID, memory string) error {
	return s.updateOne(ctx, s.messages, messageID, bson.M{"$set": bson.M{"updated_memory": memory}})
}

func (s *Store) CreateUpload(ctx context.Context, u chat.Upload) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := uploadDocument{ID: oid(u.ID), UserID: oid(u.UserID), ContentType: u.ContentType, IsSent: u.IsSent}
	if u.ChatID != nil {
		doc.ChatID = oid(*u.ChatID)
	}
	if _, err := s.uploads.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert upload: %w", err)
	}
	return nil
}

func (s *Store) ListUnattachedUploads(ctx context.Context, userID string, chatID *string) ([]chat.Upload, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"user_id": oid(userID), "chat_id": nil, "is_sent": false}
	if chatID != nil {
		filter["chat_id"] = oid(*chatID)
	}
	cur, err := s.uploads.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: find uploads: %w", err)
	}
	var docs []uploadDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode uploads: %w", err)
	}
	out := make([]chat.Upload, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toUpload())
	}
	return out, nil
}

func (s *Store) AttachUpload(ctx context.Context, uploadID, chatID string) error {
	return s.updateOne(ctx, s.uploads, uploadID, bson.M{"$set": bson.M{"chat_id": oid(chatID), "is_sent": true}})
}

func (s *Store) CreateMemory(ctx context.Context, m chat.Memory) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.memories.InsertOne(ctx, memoryDocument{ID: oid(m.ID), UserID: oid(m.UserID), Content: m.Content}); err != nil {
		return fmt.Errorf("mongo: insert memory: %w", err)
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, userID string) ([]chat.Memory, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.memories.Find(ctx, bson.M{"user_id": oid(userID)})
	if err != nil {
		return nil, fmt.Errorf("mongo: find memories: %w", err)
	}
	var docs []memoryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode memories: %w", err)
	}
	out := make([]chat.Memory, 0, len(docs))
	for _, d := range docs {
		out = append(out, chat.Memory{ID: idString(d.ID), UserID: idString(d.UserID), Content: d.Content})
	}
	return out, nil
}

func (s *Store) PutAPIKey(ctx context.Context, k chat.APIKey) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"user_id": oid(k.UserID), "provider": k.Provider}
	update := bson.M{
		"$set":         bson.M{"key": k.Key},
		"$setOnInsert": bson.M{"_id": oid(k.ID)},
	}
	if _, err := s.keys.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo: upsert key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, userID, provider string) (*chat.APIKey, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc keyDocument
	err := s.keys.FindOne(ctx, bson.M{"user_id": oid(userID), "provider": provider}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: find key: %w", err)
	}
	return &chat.APIKey{ID: idString(doc.ID), Provider: doc.Provider, Key: doc.Key, UserID: idString(doc.UserID)}, nil
}

// PutBlob writes data into the attachments bucket under the upload id.
func (s *Store) PutBlob(ctx context.Context, id string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.bucket.UploadFromStreamWithID(ctx, oid(id), "attachment", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("mongo: upload attachment: %w", err)
	}
	return nil
}

// ReadBlob reads the attachment stored under the upload id.
func (s *Store) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	stream, err := s.bucket.OpenDownloadStream(ctx, oid(id))
	if errors.Is(err, mongodriver.ErrFileNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: open attachment: %w", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("mongo: read attachment: %w", err)
	}
	return data, nil
}

func (s *Store) updateOne(ctx context.Context, coll *mongodriver.Collection, id string, update bson.M) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := coll.UpdateOne(ctx, bson.M{"_id": oid(id)}, update)
	if err != nil {
		return fmt.Errorf("mongo: update %s: %w", coll.Name(), err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
