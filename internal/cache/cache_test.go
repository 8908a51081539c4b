package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u1",
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

func TestInsertOrdering(t *testing.T) {
	tests := []struct {
		name    string
		inserts []models.Message
		want    []string
	}{
		{
			"already ascending",
			[]models.Message{msg("a", 0), msg("b", time.Minute), msg("c", 2 * time.Minute)},
			[]string{"a", "b", "c"},
		},
		{
			"arrival out of order",
			[]models.Message{msg("c", 2 * time.Minute), msg("a", 0), msg("b", time.Minute)},
			[]string{"a", "b", "c"},
		},
		{
			"timestamp tie keeps arrival order",
			[]models.Message{msg("x", time.Minute), msg("y", time.Minute), msg("z", time.Minute)},
			[]string{"x", "y", "z"},
		},
		{
			"tie after earlier message",
			[]models.Message{msg("b", time.Minute), msg("a", 0), msg("d", time.Minute), msg("c", 30 * time.Second)},
			[]string{"a", "c", "b", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for _, m := range tt.inserts {
				c.Merge("c1", InsertEvent(m))
			}
			assert.Equal(t, tt.want, ids(c.Messages("c1")))
		})
	}
}

func TestInsertDuplicateDiscarded(t *testing.T) {
	c := New()
	first := msg("m1", 0)
	c.Merge("c1", InsertEvent(first))

	// Echo of the same server id with different content must not win.
	echo := first
	echo.Content = "changed"
	c.Merge("c1", InsertEvent(echo))

	page := c.Messages("c1")
	require.Len(t, page, 1)
	assert.Equal(t, "msg m1", page[0].Content)
}

func TestMergeIdempotent(t *testing.T) {
	content := "edited"
	edited := base.Add(time.Hour)
	deleted := true

	events := []struct {
		name string
		ev   Event
	}{
		{"insert", InsertEvent(msg("m2", time.Minute))},
		{"patch", PatchEvent("m1", models.MessagePatch{Content: &content, EditedAt: &edited, Deleted: &deleted})},
		{"remove", RemoveEvent("m2")},
	}

	for _, tt := range events {
		t.Run(tt.name, func(t *testing.T) {
			once := New()
			once.Replace("c1", []models.Message{msg("m1", 0), msg("m2", time.Minute)})
			twice := New()
			twice.Replace("c1", []models.Message{msg("m1", 0), msg("m2", time.Minute)})

			once.Merge("c1", tt.ev)
			twice.Merge("c1", tt.ev)
			twice.Merge("c1", tt.ev)

			assert.Equal(t, once.Messages("c1"), twice.Messages("c1"))
		})
	}
}

func TestPatchFields(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{msg("m1", 0)})

	content := "now different"
	edited := base.Add(5 * time.Minute)
	c.Merge("c1", PatchEvent("m1", models.MessagePatch{Content: &content, EditedAt: &edited}))

	page := c.Messages("c1")
	require.Len(t, page, 1)
	assert.Equal(t, "now different", page[0].Content)
	require.NotNil(t, page[0].EditedAt)
	assert.Equal(t, edited, *page[0].EditedAt)
	assert.False(t, page[0].Deleted, "untouched fields stay")

	// Read receipts arrive as a full replacement set.
	receipts := []models.ReadReceipt{{UserID: "u2", ReadAt: base.Add(6 * time.Minute)}}
	c.Merge("c1", PatchEvent("m1", models.MessagePatch{ReadBy: receipts}))
	assert.Equal(t, receipts, c.Messages("c1")[0].ReadBy)
	assert.Equal(t, "now different", c.Messages("c1")[0].Content)
}

func TestPatchUnknownIDIsNoop(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{msg("m1", 0)})
	before := c.Messages("c1")

	content := "ghost"
	c.Merge("c1", PatchEvent("missing", models.MessagePatch{Content: &content}))

	assert.Equal(t, before, c.Messages("c1"))
}

func TestRemove(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{msg("m1", 0), msg("m2", time.Minute), msg("m3", 2*time.Minute)})

	c.Merge("c1", RemoveEvent("m2"))
	assert.Equal(t, []string{"m1", "m3"}, ids(c.Messages("c1")))

	// Unknown id: no-op, including a delete arriving before its create.
	c.Merge("c1", RemoveEvent("m2"))
	c.Merge("c1", RemoveEvent("never-seen"))
	assert.Equal(t, []string{"m1", "m3"}, ids(c.Messages("c1")))
}

func TestReplaceNormalizes(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{
		msg("b", time.Minute),
		msg("a", 0),
		msg("b", time.Minute), // duplicate id from a raced fetch
	})

	assert.Equal(t, []string{"a", "b"}, ids(c.Messages("c1")))
}

func TestPagesAreIndependent(t *testing.T) {
	c := New()
	c.Merge("c1", InsertEvent(msg("m1", 0)))
	other := msg("m1", 0)
	other.ConversationID = "c2"
	c.Merge("c2", InsertEvent(other))

	c.Merge("c1", RemoveEvent("m1"))

	assert.Equal(t, 0, c.Len("c1"))
	assert.Equal(t, 1, c.Len("c2"))
}

func TestDrop(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{msg("m1", 0)})
	c.Drop("c1")
	assert.Empty(t, c.Messages("c1"))

	// Dropping an unknown page is harmless.
	c.Drop("never-seen")
}

func TestMessagesReturnsCopy(t *testing.T) {
	c := New()
	c.Replace("c1", []models.Message{msg("m1", 0)})

	page := c.Messages("c1")
	page[0].Content = "mutated by caller"

	assert.Equal(t, "msg m1", c.Messages("c1")[0].Content)
}
