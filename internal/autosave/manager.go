// Package autosave persists the edit buffer as a draft on a timer and
// drives the publish and discard transitions of a document.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/serroba/smart-collab/internal/buffer"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/sirupsen/logrus"
)

// Defaults.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// ErrTimeout is returned when a gateway call misses its deadline.
var ErrTimeout = errors.New("persistence call timed out")

// State is the lifecycle state of the manager.
type State int

const (
	Idle State = iota
	Saving
	Publishing
	Discarding
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Saving:
		return "saving"
	case Publishing:
		return "publishing"
	case Discarding:
		return "discarding"
	default:
		return "unknown"
	}
}

// Status is reported to observers on every state transition.
type Status struct {
	IsAutoSaving      bool
	LastSaved         time.Time
	HasUnsavedChanges bool
	Message           string
	IsError           bool
}

// Config holds configuration for creating a manager.
type Config struct {
	DocumentID string
	Gateway    document.Gateway
	Buffer     *buffer.Buffer
	Timeout    time.Duration // Per gateway call, DefaultTimeout when zero
	OnStatus   func(State, Status)
	Logger     *logrus.Entry
	Now        func() time.Time
}

// Manager owns the draft lifecycle of one open document. At most one
// save, publish or discard is in flight at a time.
type Manager struct {
	docID    string
	gateway  document.Gateway
	buf      *buffer.Buffer
	timeout  time.Duration
	onStatus func(State, Status)
	log      *logrus.Entry
	now      func() time.Time

	// slot is held by the operation in flight.
	slot chan struct{}

	mu       sync.Mutex
	state    State
	status   Status
	snapshot buffer.State
	stop     context.CancelFunc
	done     chan struct{}
}

// NewManager creates a manager. The buffer's synced state is taken as
// the last saved snapshot.
func NewManager(cfg Config) *Manager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		docID:    cfg.DocumentID,
		gateway:  cfg.Gateway,
		buf:      cfg.Buffer,
		timeout:  timeout,
		onStatus: cfg.OnStatus,
		log:      logging.OrDiscard(cfg.Logger).WithField("document_id", cfg.DocumentID),
		now:      now,
		slot:     make(chan struct{}, 1),
		snapshot: cfg.Buffer.Synced(),
	}
}

// Start begins autosaving every interval, DefaultInterval when zero.
// Starting again replaces the running timer.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.stop = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, interval, done)
}

// Stop cancels the autosave timer and waits for the timer goroutine to
// exit. It is safe to call when not started.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}

	stop()
	<-done
}

func (m *Manager) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PerformAutosave(context.WithoutCancel(ctx)); err != nil {
				m.log.WithError(err).Warn("autosave failed")
			}
		}
	}
}

// PerformAutosave saves the buffer as a draft. It returns false without
// calling the gateway when another operation is in flight or nothing
// changed since the last save.
func (m *Manager) PerformAutosave(ctx context.Context) (bool, error) {
	select {
	case m.slot <- struct{}{}:
	default:
		return false, nil
	}
	defer m.release()

	current := m.buf.Snapshot()
	if m.savedState().Equal(current) {
		return false, nil
	}

	m.transition(Saving, func(s *Status) {
		s.IsAutoSaving = true
		s.Message = "Saving..."
		s.IsError = false
	})

	res, err := m.save(ctx, current)
	if err != nil {
		m.fail("Auto-save failed", err)

		return false, err
	}

	m.log.WithField("has_unsaved_changes", res.HasUnsavedChanges).Debug("draft saved")

	m.transition(Idle, func(s *Status) {
		s.IsAutoSaving = false
		s.LastSaved = m.savedAt(res.LastAutoSaveAt)
		s.HasUnsavedChanges = res.HasUnsavedChanges
		s.Message = messageOr(res.Message, "Auto-saved")
		s.IsError = false
	})

	return true, nil
}

// ForceSave saves synchronously, for teardown and navigation away.
func (m *Manager) ForceSave(ctx context.Context) (bool, error) {
	return m.PerformAutosave(ctx)
}

// PublishDraft promotes the draft to published content, saving any
// unsaved edits first. It waits for an in-flight operation to finish.
func (m *Manager) PublishDraft(ctx context.Context, createVersion bool, summary string) (*document.PublishResult, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	m.transition(Publishing, func(s *Status) {
		s.Message = "Publishing..."
		s.IsError = false
	})

	current := m.buf.Snapshot()
	if !m.savedState().Equal(current) {
		if _, err := m.save(ctx, current); err != nil {
			m.fail("Publish failed", err)

			return nil, err
		}
	}

	var res *document.PublishResult

	err := m.call(ctx, func(ctx context.Context) error {
		var err error

		res, err = m.gateway.PublishDraft(ctx, m.docID, document.PublishRequest{
			CreateVersion:  createVersion,
			VersionSummary: summary,
		})

		return err
	})
	if err != nil {
		m.fail("Publish failed", err)

		return nil, err
	}

	m.log.WithField("version", res.CurrentVersion).Info("draft published")

	m.transition(Idle, func(s *Status) {
		s.IsAutoSaving = false
		s.HasUnsavedChanges = false
		s.Message = messageOr(res.Message, "Published")
		s.IsError = false
	})

	return res, nil
}

// DiscardDraft deletes the draft and resets the buffer to the published
// content reloaded from the gateway.
func (m *Manager) DiscardDraft(ctx context.Context) (*document.Document, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	m.transition(Discarding, func(s *Status) {
		s.Message = "Discarding draft..."
		s.IsError = false
	})

	var res *document.DiscardResult

	err := m.call(ctx, func(ctx context.Context) error {
		var err error

		res, err = m.gateway.DiscardDraft(ctx, m.docID)

		return err
	})
	if err != nil {
		m.fail("Discard failed", err)

		return nil, err
	}

	var doc *document.Document

	err = m.call(ctx, func(ctx context.Context) error {
		var err error

		doc, err = m.gateway.GetDocument(ctx, m.docID)

		return err
	})
	if err != nil {
		m.fail("Discard failed", fmt.Errorf("reload document: %w", err))

		return nil, err
	}

	m.buf.Reset(doc.LatestTitle(), doc.LatestContent())

	m.mu.Lock()
	m.snapshot = m.buf.Synced()
	m.mu.Unlock()

	m.transition(Idle, func(s *Status) {
		s.IsAutoSaving = false
		s.HasUnsavedChanges = doc.HasUnsavedChanges
		s.Message = messageOr(res.Message, "Draft discarded")
		s.IsError = false
	})

	return doc, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Status returns the last reported status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// save sends s as the draft and records it as the saved snapshot.
func (m *Manager) save(ctx context.Context, s buffer.State) (*document.AutoSaveResult, error) {
	var res *document.AutoSaveResult

	err := m.call(ctx, func(ctx context.Context) error {
		var err error

		res, err = m.gateway.AutoSave(ctx, m.docID, document.Draft{Title: s.Title, Content: s.Content})

		return err
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()

	m.buf.MarkSyncedTo(s)

	return res, nil
}

// call runs fn with the per-call timeout. A missed deadline is reported
// as ErrTimeout.
func (m *Manager) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, m.timeout, err)
	}

	return err
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.slot
}

func (m *Manager) savedState() buffer.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshot
}

func (m *Manager) savedAt(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}

	return t
}

func (m *Manager) fail(prefix string, err error) {
	message := prefix + ": " + err.Error()
	if errors.Is(err, ErrTimeout) {
		message = prefix + ": timed out"
	}

	m.transition(Idle, func(s *Status) {
		s.IsAutoSaving = false
		s.HasUnsavedChanges = true
		s.Message = message
		s.IsError = true
	})
}

// transition moves to state, applies update to the status and reports
// it before returning.
func (m *Manager) transition(state State, update func(*Status)) {
	m.mu.Lock()
	m.state = state
	update(&m.status)
	status := m.status
	m.mu.Unlock()

	if m.onStatus != nil {
		m.onStatus(state, status)
	}
}

func messageOr(message, fallback string) string {
	if message == "" {
		return fallback
	}

	return message
}
