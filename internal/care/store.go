package care

import "context"

// Store is the persistence interface for sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
}
