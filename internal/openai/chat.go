package openai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatCompletionRequest captures the OpenAI-compatible request body sent to
// OpenRouter, including its reasoning and plugin extensions.
type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
	Plugins     []Plugin         `json:"plugins,omitempty"`
}

// ReasoningEffort is the reasoning-effort hint accepted by reasoning models.
type ReasoningEffort string

const (
	ReasoningHigh   ReasoningEffort = "high"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningLow    ReasoningEffort = "low"
)

// ParseReasoningEffort validates a user supplied effort. Empty input yields "".
func ParseReasoningEffort(v string) (ReasoningEffort, error) {
	switch e := ReasoningEffort(strings.ToLower(strings.TrimSpace(v))); e {
	case "", ReasoningHigh, ReasoningMedium, ReasoningLow:
		return e, nil
	default:
		return "", fmt.Errorf("invalid reasoning effort %q", v)
	}
}

// ReasoningConfig wraps the effort hint.
type ReasoningConfig struct {
	Effort ReasoningEffort `json:"effort"`
}

// Plugin is a provider plugin directive.
type Plugin struct {
	ID  string     `json:"id"`
	PDF *PDFPlugin `json:"pdf,omitempty"`
}

// PDFPlugin selects the engine used to parse pdf attachments.
type PDFPlugin struct {
	Engine string `json:"engine"`
}

// FileParserPlugin asks the provider to extract pdf text before inference.
func FileParserPlugin() Plugin {
	return Plugin{ID: "file-parser", PDF: &PDFPlugin{Engine: "pdf-text"}}
}

// ChatMessage follows OpenAI's role/content-parts schema.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// Content part types.
const (
	PartText     = "text"
	PartImageURL = "image_url"
	PartFile     = "file"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *File     `json:"file,omitempty"`
}

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// File carries inline file data as a data URL.
type File struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart { return ContentPart{Type: PartText, Text: text} }

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// FilePart builds a file content part.
func FilePart(filename, data string) ContentPart {
	return ContentPart{Type: PartFile, File: &File{Filename: filename, FileData: data}}
}

// MarshalJSON keeps the "text" key on text parts even when empty.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.Type == PartText {
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{p.Type, p.Text})
	}
	type plain ContentPart
	return json.Marshal(plain(p))
}

// CompletionRequest is the legacy /completions body used for one-shot prompts.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}
