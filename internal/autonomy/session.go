package autonomy

import (
	"sync"
	"time"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// closedRequestLimit bounds how many resolved or expired requests a session
// keeps for lookup. Older ones are dropped first.
const closedRequestLimit = 256

// Session is the mutable state of one autonomy session: the applied-mutation
// counter and the pending approval queue. It is owned by exactly one
// Controller and every access goes through its mutex.
type Session struct {
	mu       sync.Mutex
	start    time.Time
	applied  int
	requests map[string]*domain.ApprovalRequest
	closed   []string
	limit    int
	now      func() time.Time
}

// NewSession starts a session now.
func NewSession() *Session {
	return newSessionWithClock(time.Now)
}

func newSessionWithClock(now func() time.Time) *Session {
	return &Session{
		start:    now(),
		requests: make(map[string]*domain.ApprovalRequest),
		limit:    closedRequestLimit,
		now:      now,
	}
}

// retireLocked records that id left PENDING_REVIEW and drops the oldest
// closed requests beyond the limit. s.mu must be held.
func (s *Session) retireLocked(id string) {
	s.closed = append(s.closed, id)
	for len(s.closed) > s.limit {
		delete(s.requests, s.closed[0])
		s.closed = s.closed[1:]
	}
}
