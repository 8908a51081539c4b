package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SachiPatankar/buildasquad-sub000/internal/cache"
	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
	"github.com/SachiPatankar/buildasquad-sub000/internal/push"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, conv string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "peer",
		Content:        "msg " + id,
		CreatedAt:      base.Add(offset),
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// fakeAPI implements API with overridable behavior per test.
type fakeAPI struct {
	mu            sync.Mutex
	fetchCalls    []string
	markReadCalls []string

	fetch  func(conversationID string) ([]models.Message, error)
	send   func(conversationID, content string, replyTo *string) (*models.Message, error)
	edit   func(messageID, content string) (*models.Message, error)
	delete func(messageID string) error
}

func (f *fakeAPI) FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, conversationID)
	f.mu.Unlock()
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(conversationID)
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content string, replyTo *string) (*models.Message, error) {
	if f.send == nil {
		return nil, errors.New("send not stubbed")
	}
	return f.send(conversationID, content, replyTo)
}

func (f *fakeAPI) EditMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	if f.edit == nil {
		return nil, errors.New("edit not stubbed")
	}
	return f.edit(messageID, content)
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID string) error {
	if f.delete == nil {
		return nil
	}
	return f.delete(messageID)
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetchCalls))
	copy(out, f.fetchCalls)
	return out
}

func (f *fakeAPI) markedRead() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReadCalls))
	copy(out, f.markReadCalls)
	return out
}

// fakeTopic records topic membership and keeps registered handlers so
// tests can inject push events.
type fakeTopic struct {
	mu       sync.Mutex
	handlers map[string]push.Handler
	joined   []string
	left     []string
	rejoined []string
}

func newFakeTopic() *fakeTopic {
	return &fakeTopic{handlers: make(map[string]push.Handler)}
}

func (f *fakeTopic) JoinTopic(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
}

func (f *fakeTopic) LeaveTopic(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
}

func (f *fakeTopic) RejoinTopic(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejoined = append(f.rejoined, id)
}

func (f *fakeTopic) On(event string, h push.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeTopic) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeTopic) emit(t *testing.T, event string, payload any) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", event)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	h(raw)
}

func (f *fakeTopic) handler(event string) push.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[event]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	api   *fakeAPI
	topic *fakeTopic
	cache *cache.Cache
	store *notify.Store
	ctrl  *Controller
}

func newFixture() *fixture {
	api := &fakeAPI{}
	topic := newFakeTopic()
	c := cache.New()
	store := notify.NewStore()
	return &fixture{
		api:   api,
		topic: topic,
		cache: c,
		store: store,
		ctrl:  New(api, topic, c, store, 50, testLogger()),
	}
}

func TestOpenSeedsCacheAndJoins(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0), msg("m2", "c1", time.Minute)}, nil
	}
	f.store.SetCounter("c1", 3)

	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	assert.Equal(t, Active, f.ctrl.State())
	assert.Equal(t, "c1", f.ctrl.ActiveConversation())
	assert.Equal(t, []string{"m1", "m2"}, ids(f.cache.Messages("c1")))
	assert.Equal(t, []string{"c1"}, f.topic.joined)
	assert.Equal(t, []string{"c1"}, f.api.markedRead())
	assert.Equal(t, 0, f.store.Counter("c1"), "opening resets the unread counter")

	for _, ev := range []string{"message-created", "message-updated", "message-deleted"} {
		assert.NotNil(t, f.topic.handler(ev), "handler for %s", ev)
	}
}

func TestOpenSameConversationIsNoop(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	assert.Equal(t, []string{"c1"}, f.api.fetched())
}

func TestOpenFetchFailure(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return nil, errors.New("boom")
	}

	err := f.ctrl.Open(context.Background(), "c1")

	require.Error(t, err)
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.topic.joined, "failed load must not join the topic")
	assert.Empty(t, f.api.markedRead())
}

func TestStaleFetchDiscarded(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.api.fetch = func(conv string) ([]models.Message, error) {
		if conv == "a" {
			close(started)
			<-release
			return []models.Message{msg("a1", "a", 0)}, nil
		}
		return []models.Message{msg("b1", "b", 0)}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Open(context.Background(), "a") }()
	<-started

	// The user switches to b before a's history resolves.
	require.NoError(t, f.ctrl.Open(context.Background(), "b"))
	close(release)
	require.NoError(t, <-done, "a stale result is dropped silently, not an error")

	assert.Equal(t, "b", f.ctrl.ActiveConversation())
	assert.Equal(t, []string{"b1"}, ids(f.cache.Messages("b")))
	assert.Equal(t, 0, f.cache.Len("a"), "stale fetch must not seed a cache page")
	assert.Equal(t, []string{"b"}, f.topic.joined, "stale load must not join its topic")
}

func TestSwitchingConversationsClosesPrevious(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))
	require.NoError(t, f.ctrl.Open(context.Background(), "c2"))

	assert.Equal(t, []string{"c1"}, f.topic.left)
	assert.Equal(t, []string{"c1", "c2"}, f.topic.joined)
	assert.Equal(t, 0, f.cache.Len("c1"), "previous page is dropped")
	assert.Equal(t, "c2", f.ctrl.ActiveConversation())
}

func TestSendConfirmResolvesPending(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))
	confirmed := msg("m9", "c1", time.Minute)
	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		return &confirmed, nil
	}

	require.NoError(t, f.ctrl.Send(context.Background(), "hello"))

	assert.Equal(t, []string{"m9"}, ids(f.cache.Messages("c1")))
	assert.Empty(t, f.ctrl.Pending(), "confirmed send leaves no placeholder")
}

func TestSendEchoRaceDeduplicates(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	confirmed := msg("m9", "c1", time.Minute)
	confirmed.SenderID = "me"
	sendStarted := make(chan struct{})
	release := make(chan struct{})
	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		close(sendStarted)
		<-release
		return &confirmed, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(context.Background(), "hello") }()
	<-sendStarted

	// The push echo lands before the send call resolves.
	f.topic.emit(t, "message-created", map[string]any{
		"conversationId": "c1",
		"message":        confirmed,
	})

	close(release)
	require.NoError(t, <-done)

	page := f.cache.Messages("c1")
	require.Len(t, page, 1, "echo race must not duplicate the message")
	assert.Equal(t, "m9", page[0].ID)
	assert.Empty(t, f.ctrl.Pending())
}

func TestSendFailureKeepsFailedPending(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))
	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		return nil, errors.New("network down")
	}

	err := f.ctrl.Send(context.Background(), "hello")

	require.Error(t, err)
	pending := f.ctrl.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.OutgoingFailed, pending[0].State)
	assert.Equal(t, "hello", pending[0].Content)
	require.Error(t, pending[0].Err)
	assert.Equal(t, 0, f.cache.Len("c1"), "failed send never reaches the cache")
}

func TestRetryReissuesFailedSend(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		return nil, errors.New("network down")
	}
	require.Error(t, f.ctrl.Send(context.Background(), "hello"))
	failed := f.ctrl.Pending()[0]

	confirmed := msg("m9", "c1", time.Minute)
	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		assert.Equal(t, "hello", content)
		return &confirmed, nil
	}

	require.NoError(t, f.ctrl.Retry(context.Background(), failed.TempID))

	assert.Empty(t, f.ctrl.Pending())
	assert.Equal(t, []string{"m9"}, ids(f.cache.Messages("c1")))

	// The failed record is gone; retrying it again is an error.
	require.Error(t, f.ctrl.Retry(context.Background(), failed.TempID))
}

func TestSendRequiresActiveConversation(t *testing.T) {
	f := newFixture()
	require.Error(t, f.ctrl.Send(context.Background(), "hello"))
	require.Error(t, f.ctrl.Edit(context.Background(), "m1", "x"))
	require.Error(t, f.ctrl.Delete(context.Background(), "m1"))
}

func TestPushHandlersMergeEvents(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	f.topic.emit(t, "message-created", map[string]any{
		"conversationId": "c1",
		"message":        msg("m2", "c1", time.Minute),
	})
	assert.Equal(t, []string{"m1", "m2"}, ids(f.cache.Messages("c1")))

	f.topic.emit(t, "message-updated", map[string]any{
		"conversationId": "c1",
		"message":        map[string]any{"id": "m1", "content": "edited"},
	})
	assert.Equal(t, "edited", f.cache.Messages("c1")[0].Content)

	f.topic.emit(t, "message-deleted", map[string]any{
		"conversationId": "c1",
		"messageId":      "m2",
	})
	assert.Equal(t, []string{"m1"}, ids(f.cache.Messages("c1")))
}

func TestEventsForOtherConversationsIgnored(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	f.topic.emit(t, "message-created", map[string]any{
		"conversationId": "c2",
		"message":        msg("x1", "c2", 0),
	})

	assert.Equal(t, 0, f.cache.Len("c1"))
	assert.Equal(t, 0, f.cache.Len("c2"), "no page may be created for a foreign conversation")
}

func TestCloseTearsDown(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))
	created := f.topic.handler("message-created")

	f.ctrl.Close()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, []string{"c1"}, f.topic.left)
	assert.Nil(t, f.topic.handler("message-created"))
	assert.Nil(t, f.topic.handler("message-updated"))
	assert.Nil(t, f.topic.handler("message-deleted"))
	assert.Equal(t, 0, f.cache.Len("c1"))

	// An event already in flight when Close happened must not touch the
	// cache of the no-longer-active conversation.
	raw, _ := json.Marshal(map[string]any{
		"conversationId": "c1",
		"message":        msg("m2", "c1", time.Minute),
	})
	created(raw)
	assert.Equal(t, 0, f.cache.Len("c1"))
}

func TestCloseWhenIdleIsNoop(t *testing.T) {
	f := newFixture()
	f.ctrl.Close()
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.topic.left)
}

func TestReconcileAfterReconnect(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0), msg("m2", "c1", time.Minute)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	// m3 was created server-side while disconnected.
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0), msg("m2", "c1", time.Minute), msg("m3", "c1", 2 * time.Minute)}, nil
	}

	f.ctrl.Reconcile(context.Background())

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(f.cache.Messages("c1")))
	assert.Equal(t, []string{"c1"}, f.topic.rejoined)
	assert.Equal(t, []string{"c1", "c1"}, f.api.markedRead(), "reconciliation marks read again")

	// m3 also replayed via push: still no duplicate.
	f.topic.emit(t, "message-created", map[string]any{
		"conversationId": "c1",
		"message":        msg("m3", "c1", 2 * time.Minute),
	})
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(f.cache.Messages("c1")))
}

func TestReconcileWhenIdleIsNoop(t *testing.T) {
	f := newFixture()
	f.ctrl.Reconcile(context.Background())
	assert.Empty(t, f.api.fetched())
	assert.Empty(t, f.topic.rejoined)
}

func TestReconcileFetchFailureStaysActive(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	f.api.fetch = func(string) ([]models.Message, error) {
		return nil, errors.New("still flaky")
	}
	f.ctrl.Reconcile(context.Background())

	assert.Equal(t, Active, f.ctrl.State())
	assert.Equal(t, []string{"m1"}, ids(f.cache.Messages("c1")), "cached page survives a failed reconcile")
}

func TestEditPatchesCache(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	editedAt := base.Add(time.Hour)
	f.api.edit = func(messageID, content string) (*models.Message, error) {
		updated := msg("m1", "c1", 0)
		updated.Content = content
		updated.EditedAt = &editedAt
		return &updated, nil
	}

	require.NoError(t, f.ctrl.Edit(context.Background(), "m1", "fixed typo"))

	page := f.cache.Messages("c1")
	require.Len(t, page, 1)
	assert.Equal(t, "fixed typo", page[0].Content)
	require.NotNil(t, page[0].EditedAt)
	assert.Equal(t, editedAt, *page[0].EditedAt)
}

func TestDeleteRemovesFromCache(t *testing.T) {
	f := newFixture()
	f.api.fetch = func(string) ([]models.Message, error) {
		return []models.Message{msg("m1", "c1", 0), msg("m2", "c1", time.Minute)}, nil
	}
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	require.NoError(t, f.ctrl.Delete(context.Background(), "m1"))

	assert.Equal(t, []string{"m2"}, ids(f.cache.Messages("c1")))

	// The push echo of the delete then no-ops.
	f.topic.emit(t, "message-deleted", map[string]any{
		"conversationId": "c1",
		"messageId":      "m1",
	})
	assert.Equal(t, []string{"m2"}, ids(f.cache.Messages("c1")))
}

func TestReplyCarriesReference(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ctrl.Open(context.Background(), "c1"))

	var gotReply *string
	f.api.send = func(conv, content string, replyTo *string) (*models.Message, error) {
		gotReply = replyTo
		m := msg("m9", "c1", time.Minute)
		m.ReplyTo = replyTo
		return &m, nil
	}

	require.NoError(t, f.ctrl.Reply(context.Background(), "m1", "agreed"))

	require.NotNil(t, gotReply)
	assert.Equal(t, "m1", *gotReply)
	assert.Equal(t, []string{"m9"}, ids(f.cache.Messages("c1")))
}
