// Package chat defines the persisted records shared by the completion pipeline
// and its storage collaborators.
package chat

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SegmentType tags a message content segment.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
	SegmentPDF   SegmentType = "pdf"
)

// Segment is one ordered piece of message content. Text segments carry Value;
// image and pdf segments reference an upload by ID.
type Segment struct {
	Type  SegmentType `json:"type"`
	Value string      `json:"value,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// Text builds a text segment.
func Text(value string) Segment { return Segment{Type: SegmentText, Value: value} }

// Image builds an image reference segment.
func Image(id string) Segment { return Segment{Type: SegmentImage, ID: id} }

// PDF builds a pdf reference segment.
func PDF(id string) Segment { return Segment{Type: SegmentPDF, ID: id} }

// Chat groups messages owned by a single user.
type Chat struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a persisted chat turn. An assistant row is created empty and later
// receives exactly one terminal content update; UpdatedMemory is written by the
// memory task and never by the finalizer.
type Message struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	Content       []Segment `json:"content"`
	Role          Role      `json:"role"`
	Reasoning     *string   `json:"reasoning,omitempty"`
	Model         *string   `json:"model,omitempty"`
	UpdatedMemory *string   `json:"updated_memory,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TextContent concatenates the text segments of the message.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, seg := range m.Content {
		if seg.Type == SegmentText {
			sb.WriteString(seg.Value)
		}
	}
	return sb.String()
}

// Upload is a user file waiting to be attached to the next prompt.
type Upload struct {
	ID          string  `json:"id"`
	ChatID      *string `json:"chat_id,omitempty"`
	UserID      string  `json:"user_id"`
	ContentType string  `json:"content_type"`
	IsSent      bool    `json:"is_sent"`
}

// IsImage reports whether the upload should be forwarded as an image part.
func (u Upload) IsImage() bool { return strings.HasPrefix(u.ContentType, "image/") }

// Segment returns the content segment referencing this upload.
func (u Upload) Segment() Segment {
	if u.IsImage() {
		return Image(u.ID)
	}
	return PDF(u.ID)
}

// Memory is a fact remembered about a user across chats.
type Memory struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// APIKey is a user supplied provider credential. Key holds the encrypted form.
type APIKey struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Key      string `json:"key"`
	UserID   string `json:"user_id"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
