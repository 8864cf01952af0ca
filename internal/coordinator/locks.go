package coordinator

import (
	"sync"

	"github.com/huddlekit/huddle/internal/domain"
)

// meetingLocks linearizes mutating operations per meeting. Join, leave and
// end on the same meeting serialize behind one mutex; operations on
// different meetings never block each other.
type meetingLocks struct {
	mu sync.Mutex
	m  map[domain.MeetingID]*sync.Mutex
}

func newMeetingLocks() *meetingLocks {
	return &meetingLocks{m: make(map[domain.MeetingID]*sync.Mutex)}
}

// Lock acquires the meeting's mutex and returns its unlock func. Entries are
// retained for the process lifetime: dropping a mutex while another goroutine
// still holds it would hand out a second mutex for the same meeting and break
// the serialization guarantee.
func (l *meetingLocks) Lock(id domain.MeetingID) func() {
	l.mu.Lock()
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}
