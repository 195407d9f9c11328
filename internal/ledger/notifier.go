package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ScheduledReminder is one pending entry of a MemoryNotifier.
type ScheduledReminder struct {
	TandaID  string
	DueAt    time.Time
	Reminder Reminder
}

// MemoryNotifier keeps scheduled reminders in memory. The CLI uses it to
// show what would be delivered; tests use it to assert cancellations.
//
// Thread-safety: safe for concurrent use.
type MemoryNotifier struct {
	mu      sync.Mutex
	pending map[string][]ScheduledReminder
}

// NewMemoryNotifier creates an empty notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{pending: make(map[string][]ScheduledReminder)}
}

// Schedule records r.
func (n *MemoryNotifier) Schedule(_ context.Context, tandaID string, dueAt time.Time, r Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[tandaID] = append(n.pending[tandaID], ScheduledReminder{TandaID: tandaID, DueAt: dueAt, Reminder: r})
	return nil
}

// CancelAll drops every reminder of tandaID.
func (n *MemoryNotifier) CancelAll(_ context.Context, tandaID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pending, tandaID)
	return nil
}

// Pending returns the reminders of tandaID ordered by due time.
func (n *MemoryNotifier) Pending(tandaID string) []ScheduledReminder {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := append([]ScheduledReminder(nil), n.pending[tandaID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}
