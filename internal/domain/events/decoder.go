package events

import (
	"encoding/json"
	"fmt"

	"github.com/pageforge/buildstream/internal/domain/build"
)

// Envelope is the wire form of one push frame: a channel name plus the
// kind-specific JSON payload.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Decode turns a raw frame payload into a typed event. It is a pure
// function: the same bytes always produce the same event and no state is
// kept between calls. A frame that is not valid structured data for its
// kind returns an error; the caller logs and skips it, the stream is never
// aborted over a single bad frame.
func Decode(kind Kind, data []byte) (Event, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", kind)
	}

	switch kind {
	case KindTask:
		var ev TaskEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode task event: %w", err)
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("decode task event: missing task id")
		}
		if ev.Status != "" {
			if _, err := build.ParseTaskStatus(ev.Status); err != nil {
				return nil, fmt.Errorf("decode task event: %w", err)
			}
		}
		return ev, nil

	case KindCard:
		var card build.Card
		if err := json.Unmarshal(data, &card); err != nil {
			return nil, fmt.Errorf("decode card event: %w", err)
		}
		if card.ID == "" {
			return nil, fmt.Errorf("decode card event: missing card id")
		}
		return CardEvent{Card: card}, nil

	case KindPreviewUpdate:
		var preview build.Preview
		if err := json.Unmarshal(data, &preview); err != nil {
			return nil, fmt.Errorf("decode preview event: %w", err)
		}
		return PreviewEvent{Preview: preview}, nil

	case KindPlanUpdate:
		var ev PlanEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode plan event: %w", err)
		}
		if ev.Status != "" {
			if _, err := build.ParsePlanStatus(ev.Status); err != nil {
				return nil, fmt.Errorf("decode plan event: %w", err)
			}
		}
		return ev, nil
	}

	// Unreachable: IsValid covers the full kind set.
	return nil, fmt.Errorf("unhandled event kind: %s", kind)
}

// Marshal converts a typed event back into its wire envelope, e.g. for
// journalling or rebroadcast. Decode(Marshal(ev)) round-trips.
func Marshal(ev Event) (Envelope, error) {
	var payload any
	switch e := ev.(type) {
	case CardEvent:
		payload = e.Card
	case PreviewEvent:
		payload = e.Preview
	default:
		payload = ev
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", ev.EventKind(), err)
	}
	return Envelope{Kind: ev.EventKind(), Data: data}, nil
}

// DecodeEnvelope decodes a framed envelope, e.g. a journal line or a
// websocket message that carries the kind inline.
func DecodeEnvelope(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return Decode(env.Kind, env.Data)
}
