// Package campaign holds the single mutable campaign aggregate: the
// scheduled date, message text, attachments, required channels, and
// every recipient the bot has seen. All state is process-memory only and
// is deliberately lost on restart.
package campaign

import (
	"sync"
	"time"

	"mailerbot/internal/transport"
)

// Channel is a required-subscription channel. The set is fixed at startup;
// nothing mutates it at runtime.
type Channel struct {
	ID   int64
	Name string
}

// Seed is the initial campaign configuration.
type Seed struct {
	Date     Date
	Text     string
	Channels []Channel
}

// Content is a point-in-time copy of everything a broadcast run needs.
// A run iterates the copy, so registrations and edits made while the run
// is in flight never affect its iteration.
type Content struct {
	Text        string
	Attachments []transport.FileRef
	Recipients  []int64
}

// Summary is what the admin panel renders.
type Summary struct {
	Date        Date
	Text        string
	Attachments int
	Recipients  int
}

// Store is the campaign aggregate. Exactly one instance exists per
// process and every component shares it; all mutation goes through its
// methods so the growth invariants (attachments and recipients only ever
// grow) hold in one place.
type Store struct {
	mu          sync.Mutex
	date        Date
	text        string
	attachments []transport.FileRef
	channels    []Channel
	recipients  map[int64]struct{}
	fired       bool
}

func New(seed Seed) *Store {
	return &Store{
		date:       seed.Date,
		text:       seed.Text,
		channels:   append([]Channel(nil), seed.Channels...),
		recipients: make(map[int64]struct{}),
	}
}

// Register records a recipient identity. Idempotent; identities are never
// removed.
func (s *Store) Register(userID int64) {
	s.mu.Lock()
	s.recipients[userID] = struct{}{}
	s.mu.Unlock()
}

// SetTargetDate replaces the trigger date and re-arms the campaign.
func (s *Store) SetTargetDate(d Date) {
	s.mu.Lock()
	s.date = d
	s.fired = false
	s.mu.Unlock()
}

func (s *Store) SetText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// AddAttachment appends a file reference and returns the new total.
func (s *Store) AddAttachment(f transport.FileRef) int {
	s.mu.Lock()
	s.attachments = append(s.attachments, f)
	n := len(s.attachments)
	s.mu.Unlock()
	return n
}

func (s *Store) TargetDate() Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date
}

// DueOn reports whether the campaign should fire at time t.
func (s *Store) DueOn(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.fired && s.date.Matches(t)
}

// Disarm marks the campaign fired and clears the target date to the
// "never" sentinel so the same day cannot re-trigger.
func (s *Store) Disarm() {
	s.mu.Lock()
	s.fired = true
	s.date = Date{}
	s.mu.Unlock()
}

func (s *Store) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Channels returns the configured channel list in configured order.
func (s *Store) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Channel(nil), s.channels...)
}

// Snapshot copies the broadcast payload and recipient set.
func (s *Store) Snapshot() Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Content{
		Text:        s.text,
		Attachments: append([]transport.FileRef(nil), s.attachments...),
		Recipients:  make([]int64, 0, len(s.recipients)),
	}
	for id := range s.recipients {
		c.Recipients = append(c.Recipients, id)
	}
	return c
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Date:        s.date,
		Text:        s.text,
		Attachments: len(s.attachments),
		Recipients:  len(s.recipients),
	}
}
