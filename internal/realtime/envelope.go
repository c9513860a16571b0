// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Kind classifies an event on the bus.
type Kind string

// Event kinds.
const (
	KindTaskCreated  Kind = "task_created"
	KindTaskUpdated  Kind = "task_updated"
	KindTaskToggled  Kind = "task_toggled"
	KindTaskDeleted  Kind = "task_deleted"
	KindCommentAdded Kind = "comment_added"
	KindReminder     Kind = "reminder"
	KindBroadcast    Kind = "broadcast"
)

const envelopeVersion = 1

// Envelope wraps every payload this service publishes. Body is exactly what
// clients receive. Origin, when set, is the session that caused the event
// and is skipped during fanout.
type Envelope struct {
	Version int    `json:"v"`
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Origin  string `json:"origin,omitempty"`
	Body    string `json:"body"`
}

// NewEnvelope builds a versioned envelope with a fresh ID.
func NewEnvelope(kind Kind, origin ulid.ULID, body string) Envelope {
	env := Envelope{
		Version: envelopeVersion,
		ID:      NewID().String(),
		Kind:    kind,
		Body:    body,
	}
	if origin != (ulid.ULID{}) {
		env.Origin = origin.String()
	}
	return env
}

// Encode marshals the envelope for the bus.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, oops.Code("EVENT_MARSHAL_FAILED").With("kind", string(e.Kind)).Wrap(err)
	}
	return data, nil
}

// OriginID returns the origin session, or the zero ULID when the origin is
// absent or malformed.
func (e Envelope) OriginID() ulid.ULID {
	if e.Origin == "" {
		return ulid.ULID{}
	}
	id, err := ParseID(e.Origin)
	if err != nil {
		return ulid.ULID{}
	}
	return id
}

// DecodeEnvelope interprets a bus payload. Anything that is not a v1
// envelope, such as text from an external publisher, is passed through
// unchanged as the body.
func DecodeEnvelope(payload []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Version == envelopeVersion && env.Kind != "" {
		return env
	}
	return Envelope{Body: string(payload)}
}
