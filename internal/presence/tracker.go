// Package presence tracks the remote participants of a collaboration room
// and their last known cursors.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/serroba/smart-collab/internal/acl"
)

// Cursor is a caret position reported by a participant.
type Cursor struct {
	Position int `json:"position"`
	X        int `json:"x,omitempty"`
	Y        int `json:"y,omitempty"`
	Line     int `json:"line,omitempty"`
	Column   int `json:"column,omitempty"`
}

// Selection is a selected range of the text projection.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Participant is the known state of one room participant.
type Participant struct {
	UserID    string     `json:"user_id"`
	Username  string     `json:"username,omitempty"`
	Role      acl.Role   `json:"role"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	JoinedAt  time.Time  `json:"joined_at"`
	Active    bool       `json:"active"`
	LastSeen  time.Time  `json:"last_seen"`
}

// Update carries the fields of a participant that changed. Nil fields
// leave the known value untouched.
type Update struct {
	Username  *string
	Role      *acl.Role
	Cursor    *Cursor
	Selection *Selection
	JoinedAt  *time.Time
	Active    *bool
}

// Tracker holds the participant roster. It is safe for concurrent use;
// every read returns a copy.
type Tracker struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	onRemove     func(userID string)
	now          func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithOnRemove registers a hook run after a participant is removed, for
// clearing its rendered cursor.
func WithOnRemove(fn func(userID string)) Option {
	return func(t *Tracker) { t.onRemove = fn }
}

// WithClock replaces the clock used for join and last-seen times.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		participants: make(map[string]*Participant),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Upsert merges u into the participant's known state, creating the entry
// when needed.
func (t *Tracker) Upsert(userID string, u Update) Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	p, ok := t.participants[userID]
	if !ok {
		p = &Participant{UserID: userID, JoinedAt: now, Active: true}
		t.participants[userID] = p
	}

	if u.Username != nil {
		p.Username = *u.Username
	}

	if u.Role != nil {
		p.Role = *u.Role
	}

	if u.Cursor != nil {
		c := *u.Cursor
		p.Cursor = &c
	}

	if u.Selection != nil {
		s := *u.Selection
		p.Selection = &s
	}

	if u.JoinedAt != nil && !u.JoinedAt.IsZero() {
		p.JoinedAt = *u.JoinedAt
	}

	if u.Active != nil {
		p.Active = *u.Active
	}

	p.LastSeen = now

	return copyParticipant(p)
}

// Remove drops a participant and runs the removal hook. It reports
// whether the participant was known.
func (t *Tracker) Remove(userID string) bool {
	t.mu.Lock()
	_, ok := t.participants[userID]
	delete(t.participants, userID)
	t.mu.Unlock()

	if ok && t.onRemove != nil {
		t.onRemove(userID)
	}

	return ok
}

// Reset replaces the roster with a snapshot. Participants missing from
// the snapshot are removed through the removal hook.
func (t *Tracker) Reset(roster []Participant) {
	now := t.now()
	next := make(map[string]*Participant, len(roster))

	for i := range roster {
		p := copyParticipant(&roster[i])
		if p.JoinedAt.IsZero() {
			p.JoinedAt = now
		}

		if p.LastSeen.IsZero() {
			p.LastSeen = now
		}

		next[p.UserID] = &p
	}

	t.mu.Lock()

	var gone []string

	for id := range t.participants {
		if _, ok := next[id]; !ok {
			gone = append(gone, id)
		}
	}

	t.participants = next
	t.mu.Unlock()

	if t.onRemove != nil {
		sort.Strings(gone)

		for _, id := range gone {
			t.onRemove(id)
		}
	}
}

// Get returns a copy of one participant.
func (t *Tracker) Get(userID string) (Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.participants[userID]
	if !ok {
		return Participant{}, false
	}

	return copyParticipant(p), true
}

// Len returns the number of tracked participants.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.participants)
}

// Roster returns all participants ordered by join time, then user id.
func (t *Tracker) Roster() []Participant {
	t.mu.RLock()

	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, copyParticipant(p))
	}

	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}

		return out[i].UserID < out[j].UserID
	})

	return out
}

// Stale returns the ids of participants not seen within timeout, sorted.
func (t *Tracker) Stale(timeout time.Duration) []string {
	cutoff := t.now().Add(-timeout)

	t.mu.RLock()

	var ids []string

	for id, p := range t.participants {
		if p.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}

	t.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

func copyParticipant(p *Participant) Participant {
	out := *p

	if p.Cursor != nil {
		c := *p.Cursor
		out.Cursor = &c
	}

	if p.Selection != nil {
		s := *p.Selection
		out.Selection = &s
	}

	return out
}
