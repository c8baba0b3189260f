// Package memory keeps actors in process. It backs tests and single-node runs.
package memory

import (
	"context"
	"fmt"

	accessmodels "warden/internal/access/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	psync "warden/pkg/platform/sync"
)

type Store struct {
	actors *psync.ShardedMap[*accessmodels.Actor]
}

func New() *Store {
	return &Store{actors: psync.NewShardedMap[*accessmodels.Actor]()}
}

// Create inserts a new actor.
func (s *Store) Create(_ context.Context, actor *accessmodels.Actor) error {
	var err error
	s.actors.Update(actor.ID.String(), func(current *accessmodels.Actor, exists bool) (*accessmodels.Actor, bool) {
		if exists {
			err = fmt.Errorf("actor %s: %w", actor.ID, sentinel.ErrAlreadyExists)
			return current, true
		}
		return actor.Clone(), true
	})
	return err
}

func (s *Store) GetActor(_ context.Context, actorID id.ActorID) (*accessmodels.Actor, error) {
	a, ok := s.actors.Get(actorID.String())
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", actorID, sentinel.ErrNotFound)
	}
	return a.Clone(), nil
}

// Update applies fn to a copy of the actor under the actor's lock and stores
// the result. An error from fn leaves the stored actor untouched.
func (s *Store) Update(_ context.Context, actorID id.ActorID, fn func(*accessmodels.Actor) error) (*accessmodels.Actor, error) {
	var (
		out *accessmodels.Actor
		err error
	)
	s.actors.Update(actorID.String(), func(current *accessmodels.Actor, exists bool) (*accessmodels.Actor, bool) {
		if !exists {
			err = fmt.Errorf("actor %s: %w", actorID, sentinel.ErrNotFound)
			return current, false
		}
		next := current.Clone()
		if err = fn(next); err != nil {
			return current, true
		}
		out = next.Clone()
		return next, true
	})
	return out, err
}
