// Package models holds moderation request payloads.
package models

import (
	"time"

	accessmodels "warden/internal/access/models"
)

// SuspendRequest suspends an actor, indefinitely when Until is nil.
type SuspendRequest struct {
	Reason string     `json:"reason" validate:"required,notblank,max=1000"`
	Until  *time.Time `json:"until,omitempty"`
}

type BanRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=1000"`
}

// ReasonRequest carries the optional justification for reversing transitions.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type GrantRequest struct {
	Permission accessmodels.Permission `json:"permission" validate:"required,notblank"`
	ExpiresAt  *time.Time              `json:"expires_at,omitempty"`
	Reason     string                  `json:"reason" validate:"max=1000"`
}

type RoleChangeRequest struct {
	Role   accessmodels.Role `json:"role" validate:"required,notblank"`
	Reason string            `json:"reason" validate:"max=1000"`
}
