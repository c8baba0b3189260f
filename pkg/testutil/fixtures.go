package testutil

import (
	"sync"
	"time"

	"github.com/google/uuid"

	accessmodels "warden/internal/access/models"
	id "warden/pkg/domain"
)

// TestIDs are fixed identifiers for deterministic fixtures.
var TestIDs = struct {
	Actor1 id.ActorID
	Actor2 id.ActorID
	Actor3 id.ActorID
}{
	Actor1: id.ActorID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	Actor2: id.ActorID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	Actor3: id.ActorID(uuid.MustParse("33333333-3333-3333-3333-333333333333")),
}

// Clock is a manually advanced time source safe for concurrent readers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ActorBuilder builds access actors for tests.
type ActorBuilder struct {
	actor *accessmodels.Actor
}

// NewActor starts an active actor with a random ID and the given role.
func NewActor(role accessmodels.Role) *ActorBuilder {
	return &ActorBuilder{actor: &accessmodels.Actor{
		ID:   id.NewActorID(),
		Role: role,
	}}
}

func (b *ActorBuilder) WithID(actorID id.ActorID) *ActorBuilder {
	b.actor.ID = actorID
	return b
}

func (b *ActorBuilder) Banned(reason string) *ActorBuilder {
	b.actor.Banned = true
	b.actor.BanReason = reason
	return b
}

// Suspended marks the actor suspended; a nil until means indefinitely.
func (b *ActorBuilder) Suspended(reason string, until *time.Time) *ActorBuilder {
	b.actor.Suspended = true
	b.actor.SuspensionReason = reason
	b.actor.SuspendedUntil = until
	return b
}

func (b *ActorBuilder) WithGrant(p accessmodels.Permission, expiresAt *time.Time) *ActorBuilder {
	b.actor.Grants = append(b.actor.Grants, accessmodels.Grant{
		Permission: p,
		ExpiresAt:  expiresAt,
	})
	return b
}

func (b *ActorBuilder) Build() *accessmodels.Actor {
	return b.actor.Clone()
}
