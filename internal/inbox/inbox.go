// Package inbox projects the conversation list: summaries fetched from the
// collaborator overlaid with live unread badges from the notification
// store. It holds no state machine of its own.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
)

// Summaries is the collaborator surface the list consumes.
type Summaries interface {
	FetchConversationSummaries(ctx context.Context) ([]models.ConversationSummary, error)
}

// Entry is one conversation row: the fetched summary with its live badge.
type Entry struct {
	models.ConversationSummary
	// Unread is the live counter from the notification store, which
	// supersedes the summary's fetch-time value.
	Unread int
}

// List keeps the last-fetched conversation summaries and re-renders
// whenever either its backing fetch or the store changes.
type List struct {
	api    Summaries
	store  *notify.Store
	logger *slog.Logger

	mu        sync.RWMutex
	summaries []models.ConversationSummary

	// OnUpdate, when set, is invoked whenever the projection changes.
	OnUpdate func()
}

// New creates the list projection and subscribes it to store changes.
func New(api Summaries, store *notify.Store, logger *slog.Logger) *List {
	l := &List{
		api:    api,
		store:  store,
		logger: logger.With("component", "inbox"),
	}
	store.Subscribe(func() {
		if l.OnUpdate != nil {
			l.OnUpdate()
		}
	})
	return l
}

// Refresh re-fetches the conversation summaries.
func (l *List) Refresh(ctx context.Context) error {
	summaries, err := l.api.FetchConversationSummaries(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversation summaries: %w", err)
	}

	l.mu.Lock()
	l.summaries = summaries
	l.mu.Unlock()

	if l.OnUpdate != nil {
		l.OnUpdate()
	}
	return nil
}

// Snapshot returns the conversation rows, most recent activity first, with
// unread badges sourced from the notification store.
func (l *List) Snapshot() []Entry {
	l.mu.RLock()
	entries := make([]Entry, len(l.summaries))
	for i, s := range l.summaries {
		entries[i] = Entry{
			ConversationSummary: s,
			Unread:              l.store.Counter(s.ConversationID),
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastMessageAt.After(entries[j].LastMessageAt)
	})
	return entries
}
