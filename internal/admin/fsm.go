// Package admin implements the operator's campaign-editing protocol: a
// per-operator state machine that replaces one field at a time (date,
// text, files) so free-form input never has to be disambiguated.
package admin

import (
	"errors"
	"sync"

	"mailerbot/internal/campaign"
	"mailerbot/internal/transport"
)

// ErrNotOperator is returned for every operator-only operation attempted
// by anyone but the configured operator. No state changes on denial.
var ErrNotOperator = errors.New("not the operator")

// State is the pending edit for a session.
type State int

const (
	StateNone State = iota
	StateAwaitingDate
	StateAwaitingText
	StateAwaitingFiles
)

func (s State) String() string {
	switch s {
	case StateAwaitingDate:
		return "awaiting_date"
	case StateAwaitingText:
		return "awaiting_text"
	case StateAwaitingFiles:
		return "awaiting_files"
	default:
		return "none"
	}
}

// OutcomeKind tags what an input did to the campaign.
type OutcomeKind int

const (
	OutcomeIgnored OutcomeKind = iota // input did not belong to any pending edit
	OutcomeDateUpdated
	OutcomeDateInvalid // malformed date; state and campaign unchanged
	OutcomeTextUpdated
	OutcomeFileAdded
)

type Outcome struct {
	Kind OutcomeKind
	Date campaign.Date // set for OutcomeDateUpdated
	// Total is the attachment count after an OutcomeFileAdded.
	Total int
	// Err carries the validation error for OutcomeDateInvalid.
	Err error
}

// Manager guards every transition with the operator identity check and
// applies completed edits to the campaign store.
type Manager struct {
	operatorID int64
	store      *campaign.Store

	mu       sync.Mutex
	sessions map[int64]State
}

func NewManager(operatorID int64, store *campaign.Store) *Manager {
	return &Manager{
		operatorID: operatorID,
		store:      store,
		sessions:   make(map[int64]State),
	}
}

// OperatorID returns the configured operator identity.
func (m *Manager) OperatorID() int64 { return m.operatorID }

// Authorize is the single permission check for operator-only operations.
func (m *Manager) Authorize(userID int64) error {
	if userID != m.operatorID {
		return ErrNotOperator
	}
	return nil
}

// State returns the caller's pending edit (StateNone for strangers).
func (m *Manager) State(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// Reset clears any pending edit. Invoked when the operator re-opens the
// admin menu, which is also how the AwaitingFiles loop is exited.
func (m *Manager) Reset(userID int64) error {
	if err := m.Authorize(userID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// Begin arms a pending edit from the idle state.
func (m *Manager) Begin(userID int64, next State) error {
	if err := m.Authorize(userID); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[userID] = next
	m.mu.Unlock()
	return nil
}

// HandleText feeds a text input into the caller's pending edit.
//
// AwaitingDate: a valid DD.MM.YYYY replaces the target date and the
// session returns to idle; a malformed one changes nothing and the
// session stays armed. AwaitingText: any text replaces the message and
// the session returns to idle. Otherwise the input is ignored.
func (m *Manager) HandleText(userID int64, text string) (Outcome, error) {
	if err := m.Authorize(userID); err != nil {
		return Outcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.sessions[userID] {
	case StateAwaitingDate:
		d, err := campaign.ParseDate(text)
		if err != nil {
			return Outcome{Kind: OutcomeDateInvalid, Err: err}, nil
		}
		m.store.SetTargetDate(d)
		delete(m.sessions, userID)
		return Outcome{Kind: OutcomeDateUpdated, Date: d}, nil

	case StateAwaitingText:
		m.store.SetText(text)
		delete(m.sessions, userID)
		return Outcome{Kind: OutcomeTextUpdated}, nil

	default:
		return Outcome{Kind: OutcomeIgnored}, nil
	}
}

// HandleFile appends a file while AwaitingFiles. The state self-loops so
// the operator can keep sending files until they re-open the menu.
func (m *Manager) HandleFile(userID int64, f transport.FileRef) (Outcome, error) {
	if err := m.Authorize(userID); err != nil {
		return Outcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[userID] != StateAwaitingFiles {
		return Outcome{Kind: OutcomeIgnored}, nil
	}
	total := m.store.AddAttachment(f)
	return Outcome{Kind: OutcomeFileAdded, Total: total}, nil
}
