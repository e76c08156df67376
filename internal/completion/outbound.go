package completion

import (
	"context"
	"encoding/base64"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
)

const (
	imageDataPrefix = "data:image/jpeg;base64,"
	pdfDataPrefix   = "data:application/pdf;base64,"
)

// toChatMessage converts stored segments into upstream content parts. Image
// and pdf bytes are inlined as data URLs; an attachment that cannot be read
// is dropped and logged. Empty text segments produce no part.
func (r *run) toChatMessage(ctx context.Context, role chat.Role, segments []chat.Segment) openai.ChatMessage {
	parts := make([]openai.ContentPart, 0, len(segments))
	for _, seg := range segments {
		switch seg.Type {
		case chat.SegmentText:
			if seg.Value == "" {
				continue
			}
			parts = append(parts, openai.TextPart(seg.Value))
		case chat.SegmentImage:
			data, ok := r.readBlob(ctx, seg.ID)
			if !ok {
				continue
			}
			parts = append(parts, openai.ImagePart(imageDataPrefix+base64.StdEncoding.EncodeToString(data)))
		case chat.SegmentPDF:
			data, ok := r.readBlob(ctx, seg.ID)
			if !ok {
				continue
			}
			parts = append(parts, openai.FilePart(seg.ID, pdfDataPrefix+base64.StdEncoding.EncodeToString(data)))
		}
	}
	return openai.ChatMessage{Role: string(role), Content: parts}
}

func (r *run) readBlob(ctx context.Context, id string) ([]byte, bool) {
	if r.svc.blobs == nil {
		r.svc.logger.Printf("stream %s: no blob store for attachment %s", r.handle, id)
		return nil, false
	}
	data, err := r.svc.blobs.ReadBlob(ctx, id)
	if err != nil {
		r.svc.logger.Printf("stream %s: read attachment %s: %v", r.handle, id, err)
		return nil, false
	}
	return data, true
}

// outboundMessages renders history plus the current user turn. When search
// produced a prompt, it replaces the first segment of the outbound copy only.
// History turns left without content, such as the reply of a failed run, are
// omitted.
func (r *run) outboundMessages(ctx context.Context, augmented *string) []openai.ChatMessage {
	out := make([]openai.ChatMessage, 0, len(r.history)+1)
	for _, m := range r.history {
		msg := r.toChatMessage(ctx, m.Role, m.Content)
		if len(msg.Content) == 0 {
			r.svc.debugf("stream %s: skipping empty %s message %s", r.handle, m.Role, m.ID)
			continue
		}
		out = append(out, msg)
	}
	segments := append([]chat.Segment(nil), r.userMessage.Content...)
	if augmented != nil && len(segments) > 0 && segments[0].Type == chat.SegmentText {
		segments[0] = chat.Text(*augmented)
	}
	out = append(out, r.toChatMessage(ctx, chat.RoleUser, segments))
	return out
}
