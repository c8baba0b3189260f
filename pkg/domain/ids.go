// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing an ActorID where an EventID is expected.
type (
	ActorID uuid.UUID
	EntryID uuid.UUID
	EventID uuid.UUID
)

// New* constructors mint random identifiers for records created inside this service.

func NewActorID() ActorID { return ActorID(uuid.New()) }
func NewEntryID() EntryID { return EntryID(uuid.New()) }
func NewEventID() EventID { return EventID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, token claims, query params).

func ParseActorID(s string) (ActorID, error) {
	id, err := parseUUID(s, "actor ID")
	return ActorID(id), err
}

func ParseEntryID(s string) (EntryID, error) {
	id, err := parseUUID(s, "audit entry ID")
	return EntryID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func (id ActorID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID rejects empty, malformed and nil UUIDs.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}

// Text marshalling keeps IDs as canonical strings in JSON payloads and query params.

func (id ActorID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ActorID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *EntryID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *EventID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid uuid format")
	}
	*dst = parsed
	return nil
}
