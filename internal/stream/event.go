package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
)

// Delta is one unit of streamed progress. It is either a ContentDelta or a
// ControlEvent.
type Delta interface {
	delta()
}

// ContentDelta carries coalesced content and reasoning increments. A nil field
// means that stream had nothing new since the previous flush.
type ContentDelta struct {
	Text      *string
	Reasoning *string
}

func (ContentDelta) delta() {}

// Empty reports whether neither increment is present.
func (d ContentDelta) Empty() bool { return d.Text == nil && d.Reasoning == nil }

// MarshalJSON writes the delta in the upstream chunk-delta shape consumed by clients.
func (d ContentDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Content   *string `json:"content,omitempty"`
		Reasoning *string `json:"reasoning,omitempty"`
		Role      string  `json:"role"`
	}{Content: d.Text, Reasoning: d.Reasoning, Role: string(chat.RoleAssistant)})
}

// ControlEvent is a non-content signal on the stream.
type ControlEvent interface {
	Delta
	Kind() string
}

// Control event kinds as they appear on the wire.
const (
	KindCompleted       = "Done"
	KindSearchPerformed = "WebSearchPerformed"
	KindTitleUpdated    = "ChatNameUpdated"
	KindMemoryAdded     = "MemoryAdded"
	KindInferenceError  = "InferenceError"
	KindTaskFailed      = "TaskFailed"
)

// Completed ends the stream and carries the persisted assistant message.
type Completed struct {
	Message chat.Message `json:"message"`
}

// SearchPerformed tells the consumer the search stage is over, whatever its outcome.
type SearchPerformed struct{}

// TitleUpdated carries a freshly generated chat name.
type TitleUpdated struct {
	Name string `json:"name"`
}

// MemoryAdded carries the content of a newly stored memory.
type MemoryAdded struct {
	Memory string `json:"memory"`
}

// InferenceError ends the stream without a Completed event.
type InferenceError struct {
	Code int `json:"code"`
}

// TaskFailed reports a persistence or side-task failure after streaming began.
type TaskFailed struct {
	Task    string `json:"task"`
	Message string `json:"error"`
}

func (Completed) delta()       {}
func (SearchPerformed) delta() {}
func (TitleUpdated) delta()    {}
func (MemoryAdded) delta()     {}
func (InferenceError) delta()  {}
func (TaskFailed) delta()      {}

func (Completed) Kind() string       { return KindCompleted }
func (SearchPerformed) Kind() string { return KindSearchPerformed }
func (TitleUpdated) Kind() string    { return KindTitleUpdated }
func (MemoryAdded) Kind() string     { return KindMemoryAdded }
func (InferenceError) Kind() string  { return KindInferenceError }
func (TaskFailed) Kind() string      { return KindTaskFailed }

// EncodeControl renders ev as a JSON object tagged with its "kind".
func EncodeControl(ev ControlEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("stream: nil control event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s: %w", ev.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("stream: encode %s: %w", ev.Kind(), err)
	}
	kind, _ := json.Marshal(ev.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// DecodeControl parses a kind-tagged JSON object produced by EncodeControl.
func DecodeControl(data []byte) (ControlEvent, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("stream: decode control: %w", err)
	}
	var ev ControlEvent
	switch head.Kind {
	case KindCompleted:
		var v Completed
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("stream: decode %s: %w", head.Kind, err)
		}
		ev = v
	case KindSearchPerformed:
		ev = SearchPerformed{}
	case KindTitleUpdated:
		var v TitleUpdated
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("stream: decode %s: %w", head.Kind, err)
		}
		ev = v
	case KindMemoryAdded:
		var v MemoryAdded
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("stream: decode %s: %w", head.Kind, err)
		}
		ev = v
	case KindInferenceError:
		var v InferenceError
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("stream: decode %s: %w", head.Kind, err)
		}
		ev = v
	case KindTaskFailed:
		var v TaskFailed
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("stream: decode %s: %w", head.Kind, err)
		}
		ev = v
	default:
		return nil, fmt.Errorf("stream: unknown control kind %q", head.Kind)
	}
	return ev, nil
}
