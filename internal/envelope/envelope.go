// Package envelope decodes inbound database change notifications.
//
// Row images are kept as opaque JSON objects and only projected into typed
// structures when a handler asks for them.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed marks payloads that can never be decoded. They are
// acknowledged and dropped, never redelivered.
var ErrMalformed = errors.New("malformed change envelope")

// Operation is the row-level change kind.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeEnvelope is one decoded change notification. ID is the delivery
// deduplication key.
type ChangeEnvelope struct {
	ID            string
	Entity        string
	Schema        string
	Operation     Operation
	Before        *Snapshot
	After         *Snapshot
	SourceTrigger string
	OccurredAt    time.Time
	MessageID     string
}

// PushRequest is the body posted by the push-delivery transport.
type PushRequest struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type changeEvent struct {
	ID    string `json:"id"`
	Table struct {
		Schema string `json:"schema"`
		Name   string `json:"name"`
	} `json:"table"`
	Event struct {
		Op   string          `json:"op"`
		Old  json.RawMessage `json:"old"`
		New  json.RawMessage `json:"new"`
		Data *struct {
			Old json.RawMessage `json:"old"`
			New json.RawMessage `json:"new"`
		} `json:"data"`
	} `json:"event"`
	Trigger struct {
		Name string `json:"name"`
	} `json:"trigger"`
	CreatedAt string `json:"created_at"`
}

// DecodePush unwraps a push request and decodes the change event it carries.
func DecodePush(body []byte) (*ChangeEnvelope, error) {
	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: push body: %v", ErrMalformed, err)
	}
	if len(req.Message.Data) == 0 {
		return nil, fmt.Errorf("%w: push message has no data", ErrMalformed)
	}
	env, err := decodeChangeJSON(req.Message.Data)
	if err != nil {
		return nil, err
	}
	env.MessageID = req.Message.MessageID
	return env, nil
}

// DecodeChange decodes a bare change event. Base64 bodies are accepted for
// transports that encode payloads.
func DecodeChange(data []byte) (*ChangeEnvelope, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: body is neither JSON nor base64: %v", ErrMalformed, err)
		}
		data = decoded
	}
	return decodeChangeJSON(data)
}

func decodeChangeJSON(data []byte) (*ChangeEnvelope, error) {
	var ev changeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: change event: %v", ErrMalformed, err)
	}

	oldRaw, newRaw := ev.Event.Old, ev.Event.New
	if ev.Event.Data != nil {
		oldRaw, newRaw = ev.Event.Data.Old, ev.Event.Data.New
	}

	before, err := newSnapshot(oldRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: old row: %v", ErrMalformed, err)
	}
	after, err := newSnapshot(newRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: new row: %v", ErrMalformed, err)
	}

	env := &ChangeEnvelope{
		ID:            strings.TrimSpace(ev.ID),
		Entity:        strings.TrimSpace(ev.Table.Name),
		Schema:        ev.Table.Schema,
		Operation:     Operation(strings.ToUpper(strings.TrimSpace(ev.Event.Op))),
		Before:        before,
		After:         after,
		SourceTrigger: ev.Trigger.Name,
	}
	if ev.CreatedAt != "" {
		at, err := parseTime(ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: created_at: %v", ErrMalformed, err)
		}
		env.OccurredAt = at
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *ChangeEnvelope) validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if e.Entity == "" {
		return fmt.Errorf("%w: missing table name", ErrMalformed)
	}
	switch e.Operation {
	case OpInsert:
		if e.After == nil {
			return fmt.Errorf("%w: INSERT without new row", ErrMalformed)
		}
	case OpUpdate:
		if e.Before == nil || e.After == nil {
			return fmt.Errorf("%w: UPDATE requires old and new rows", ErrMalformed)
		}
	case OpDelete:
		if e.Before == nil {
			return fmt.Errorf("%w: DELETE without old row", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformed, e.Operation)
	}
	return nil
}
