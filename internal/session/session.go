// Package session holds per-user conversation state. Sessions are transient
// and in-memory: a restart drops all dialogue progress, never subscriptions.
package session

import (
	"sync"
	"time"
)

// Session tracks one user's progress through a multi-step dialogue.
// Zero value is idle.
type Session struct {
	Flow       string // active flow name, "" when idle
	Step       int    // index into the flow's step list
	Confirming bool   // all fields collected, awaiting yes/no
	Scratch    map[string]string
	UpdatedAt  time.Time
}

func (s *Session) Idle() bool { return s.Flow == "" }

// Reset returns the session to idle and drops collected fields.
func (s *Session) Reset() {
	s.Flow = ""
	s.Step = 0
	s.Confirming = false
	s.Scratch = nil
	s.UpdatedAt = time.Now()
}

// Begin puts the session at the first step of the named flow with empty
// scratch.
func (s *Session) Begin(flow string) {
	s.Flow = flow
	s.Step = 0
	s.Confirming = false
	s.Scratch = map[string]string{}
	s.UpdatedAt = time.Now()
}

// Store owns all sessions, keyed by user id. Access to one user's session is
// serialized by a per-key mutex; different users never contend.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	mu sync.Mutex
	s  Session
}

func NewStore() *Store {
	return &Store{entries: map[int64]*entry{}}
}

func (st *Store) entryFor(userID int64) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entries[userID]
	if e == nil {
		e = &entry{}
		st.entries[userID] = e
	}
	return e
}

// Update runs fn with exclusive access to userID's session. The per-key lock
// is held for the duration of fn, so read-modify-write sequences are atomic
// per user and concurrent events for the same user apply in lock order.
func (st *Store) Update(userID int64, fn func(s *Session)) {
	e := st.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.s)
}

// Snapshot returns a copy of userID's session (scratch included).
func (st *Store) Snapshot(userID int64) Session {
	e := st.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.s
	if e.s.Scratch != nil {
		cp.Scratch = make(map[string]string, len(e.s.Scratch))
		for k, v := range e.s.Scratch {
			cp.Scratch[k] = v
		}
	}
	return cp
}
