// Package buffer holds the title and content being edited and tracks
// whether they differ from what was last persisted.
package buffer

import (
	"sync/atomic"

	"github.com/serroba/smart-collab/internal/content"
)

// State is an immutable title and content pair.
type State struct {
	Title   string
	Content content.Node
}

// Equal reports whether two states hold the same title and structurally
// equal content.
func (s State) Equal(other State) bool {
	return s.Title == other.Title && content.Equal(s.Content, other.Content)
}

// Buffer is the local edit buffer. States are replaced whole, never
// modified in place, so readers on any goroutine always observe a
// complete tree.
type Buffer struct {
	current atomic.Pointer[State]
	synced  atomic.Pointer[State]
}

// New creates a buffer whose current and synced states are both the
// given title and content.
func New(title string, doc content.Node) *Buffer {
	b := &Buffer{}
	b.Reset(title, doc)

	return b
}

// Title returns the current title.
func (b *Buffer) Title() string {
	return b.current.Load().Title
}

// Content returns the current content tree.
func (b *Buffer) Content() content.Node {
	return b.current.Load().Content
}

// Snapshot returns the current state.
func (b *Buffer) Snapshot() State {
	return *b.current.Load()
}

// Synced returns the last synced state.
func (b *Buffer) Synced() State {
	return *b.synced.Load()
}

// SetTitle replaces the current title.
func (b *Buffer) SetTitle(title string) {
	b.Update(func(s State) State {
		s.Title = title

		return s
	})
}

// SetContent replaces the current content tree.
func (b *Buffer) SetContent(doc content.Node) {
	b.Update(func(s State) State {
		s.Content = doc

		return s
	})
}

// Set replaces the whole current state.
func (b *Buffer) Set(s State) {
	b.current.Store(&s)
}

// Update replaces the current state with fn's result and returns it. fn
// may be called more than once if another writer swaps the state
// concurrently, so it must not have side effects.
func (b *Buffer) Update(fn func(State) State) State {
	for {
		old := b.current.Load()

		next := fn(*old)
		if b.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// IsDirty reports whether the current state differs from the synced one.
func (b *Buffer) IsDirty() bool {
	return !b.current.Load().Equal(*b.synced.Load())
}

// MarkSynced records the current state as synced.
func (b *Buffer) MarkSynced() {
	b.synced.Store(b.current.Load())
}

// MarkSyncedTo records s as synced. Edits made after s was captured keep
// the buffer dirty.
func (b *Buffer) MarkSyncedTo(s State) {
	b.synced.Store(&s)
}

// Reset sets both the current and synced states.
func (b *Buffer) Reset(title string, doc content.Node) {
	s := &State{Title: title, Content: doc}
	b.current.Store(s)
	b.synced.Store(s)
}
