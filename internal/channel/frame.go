// Package channel implements the framed JSON channel protocol and the
// per-connection state machine that drives it.
package channel

import (
	"encoding/json"
	"fmt"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// Frame is a single wire message: a 5-element JSON array of
// (join_ref, ref, topic, event, payload). join_ref and ref are either the
// JSON null value or a decimal-digit string; payload is always a JSON object.
type Frame struct {
	JoinRef *string
	Ref     *string
	Topic   string
	Event   string
	Payload map[string]any
}

const frameLen = 5

// Decode parses a single wire frame, rejecting anything that doesn't match
// the five-element (join_ref, ref, topic, event, payload) shape.
func Decode(data []byte) (Frame, error) {
	const op = "channel.Decode"

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("not a JSON array: %w", err))
	}
	if len(raw) != frameLen {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("expected %d elements, got %d", frameLen, len(raw)))
	}

	joinRef, err := decodeRef(raw[0])
	if err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("join_ref: %w", err))
	}
	ref, err := decodeRef(raw[1])
	if err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("ref: %w", err))
	}

	if string(raw[2]) == "null" || string(raw[3]) == "null" {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("topic and event must be strings, got null"))
	}
	var topic string
	if err := json.Unmarshal(raw[2], &topic); err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("topic: %w", err))
	}
	var event string
	if err := json.Unmarshal(raw[3], &event); err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("event: %w", err))
	}

	if string(raw[4]) == "null" {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("payload must be a JSON object, got null"))
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw[4], &payload); err != nil {
		return Frame{}, agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("payload must be a JSON object: %w", err))
	}

	return Frame{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   event,
		Payload: payload,
	}, nil
}

// decodeRef decodes a ref-like element: JSON null or a decimal-digit string.
func decodeRef(raw json.RawMessage) (*string, error) {
	if string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("must be null or a string: %w", err)
	}
	if s == "" {
		return nil, fmt.Errorf("must be non-empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("must be decimal digits, got %q", s)
		}
	}
	return &s, nil
}

// Encode serializes a frame. Payload is always emitted, compactly, even when
// empty ("{}" rather than omitted); refs are emitted as JSON null when unset.
func Encode(f Frame) ([]byte, error) {
	payload := f.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	arr := [frameLen]any{refJSON(f.JoinRef), refJSON(f.Ref), f.Topic, f.Event, payload}
	return json.Marshal(arr)
}

func refJSON(ref *string) any {
	if ref == nil {
		return nil
	}
	return *ref
}
