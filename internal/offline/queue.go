// Package offline holds messages composed while connectivity is lost and
// merges them back into the authoritative session once it returns. The
// queue is an explicit dependency rather than ambient client storage, so
// the sync logic is testable headlessly and the medium is swappable.
package offline

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowency-live/opsstack-builder-sub001/internal/session"
)

// Queue is the client-side holding area contract.
type Queue interface {
	Enqueue(msg session.Message) error
	Messages() ([]session.Message, error)
	Clear() error
}

// MemoryQueue is an in-process Queue safe for concurrent use.
type MemoryQueue struct {
	mu   sync.Mutex
	msgs []session.Message
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(msg session.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *MemoryQueue) Messages() ([]session.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]session.Message, len(q.msgs))
	copy(out, q.msgs)
	return out, nil
}

func (q *MemoryQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = nil
	return nil
}

// SessionStore is the slice of the session store the syncer needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
	SaveSessionState(ctx context.Context, id string, state *session.Session) error
}

// Syncer merges queued offline messages into the authoritative session.
type Syncer struct {
	store SessionStore
	queue Queue
}

// NewSyncer wires a queue to a session store.
func NewSyncer(store SessionStore, queue Queue) *Syncer {
	return &Syncer{store: store, queue: queue}
}

// Sync appends the queued messages to the session via SaveSessionState
// and clears the queue only after that call succeeds. Returns the number
// of messages merged.
func (s *Syncer) Sync(ctx context.Context, sessionID string) (int, error) {
	queued, err := s.queue.Messages()
	if err != nil {
		return 0, fmt.Errorf("read offline queue: %w", err)
	}
	if len(queued) == 0 {
		return 0, nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	sess.ConversationHistory = append(sess.ConversationHistory, queued...)

	if err := s.store.SaveSessionState(ctx, sessionID, sess); err != nil {
		return 0, err
	}
	if err := s.queue.Clear(); err != nil {
		return len(queued), fmt.Errorf("clear offline queue: %w", err)
	}
	return len(queued), nil
}
