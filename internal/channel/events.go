// Package channel defines the events exchanged with peers over the sync
// channel and the websocket transport that carries them. Field names are
// part of the wire protocol; []byte fields travel as base64 strings via
// the standard JSON encoding.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEvent = errors.New("unknown event")

const (
	EventDocumentUpdate = "document-update"
	EventPresenceUpdate = "presence-update"
	EventInsertContent  = "insert-content"
	EventAgentQuery     = "agent-query"
	EventAgentChunk     = "agent-chunk"
	EventAgentDone      = "agent-done"
	EventAgentError     = "agent-error"
	EventForceSave      = "force-save"
)

// Envelope frames every message on the channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// DocumentUpdate carries an incremental CRDT delta. Outbound messages also
// include the full state and rendering so the relay can persist without
// understanding the CRDT; inbound messages only need the delta.
type DocumentUpdate struct {
	Update        []byte `json:"update"`
	CompleteState []byte `json:"complete_state,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	RenderedText  string `json:"rendered_text,omitempty"`
}

type PresenceUpdate struct {
	Update []byte `json:"update"`
	UserID string `json:"user_id"`
}

type InsertContent struct {
	Content string `json:"content"`
}

type AgentQuery struct {
	Question string `json:"question"`
	NodeID   string `json:"node_id"`
}

type AgentChunk struct {
	NodeID string `json:"node_id"`
	Chunk  string `json:"chunk"`
}

type AgentDone struct {
	NodeID   string `json:"node_id"`
	Response string `json:"response"`
}

type AgentError struct {
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

type ForceSave struct {
	CompleteState []byte `json:"complete_state"`
	RenderedText  string `json:"rendered_text"`
}

// Inbound is the closed set of events a session accepts from the channel.
type Inbound interface {
	inboundEvent() string
}

func (DocumentUpdate) inboundEvent() string { return EventDocumentUpdate }
func (PresenceUpdate) inboundEvent() string { return EventPresenceUpdate }
func (InsertContent) inboundEvent() string  { return EventInsertContent }
func (AgentChunk) inboundEvent() string     { return EventAgentChunk }
func (AgentDone) inboundEvent() string      { return EventAgentDone }
func (AgentError) inboundEvent() string     { return EventAgentError }

// Encode frames an event payload into envelope bytes.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Decode parses envelope bytes into a typed inbound event. Events outside
// the inbound set fail with ErrUnknownEvent so callers can drop them
// without tearing down the session.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var (
		ev  Inbound
		err error
	)
	switch env.Event {
	case EventDocumentUpdate:
		var p DocumentUpdate
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventPresenceUpdate:
		var p PresenceUpdate
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventInsertContent:
		var p InsertContent
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventAgentChunk:
		var p AgentChunk
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventAgentDone:
		var p AgentDone
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventAgentError:
		var p AgentError
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return ev, nil
}
