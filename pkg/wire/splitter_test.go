package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterReassemblesChunks(t *testing.T) {
	sp := NewSplitter(3)

	items := sp.Feed(`{"t":"entity.update","ref":"gu`)
	assert.Empty(t, items, "no newline yet")

	items = sp.Feed("est_linda\",\"p\":{\"rsvp\":\"yes\"}}\n{\"t\":\"voice\",\"te")
	require.Len(t, items, 1)
	op := items[0].(OpItem).Op
	assert.Equal(t, "guest_linda", op.Ref)

	items = sp.Feed("xt\":\"Done.\"}\n")
	require.Len(t, items, 1)
	assert.Equal(t, "Done.", items[0].(SignalItem).Signal.Text)
}

func TestSplitterSkipsBlanksAndFences(t *testing.T) {
	sp := NewSplitter(3)
	items := sp.Feed("```json\n\n   \n{\"t\":\"batch.start\"}\n```\n")
	require.Len(t, items, 1)
	assert.Equal(t, SignalBatchStart, items[0].(SignalItem).Signal.Type)
	assert.Zero(t, sp.Malformed())
}

func TestSplitterParseFailureStreak(t *testing.T) {
	t.Run("streak limit emits a single failure item", func(t *testing.T) {
		sp := NewSplitter(3)
		items := sp.Feed("I think the answer is:\nlet me reconsider\n")
		assert.Empty(t, items)
		assert.Equal(t, 2, sp.Streak())

		items = sp.Feed("here is some prose\n")
		require.Len(t, items, 1)
		fail := items[0].(ParseFailureItem)
		assert.Equal(t, 3, fail.Streak)
		assert.Equal(t, 3, sp.Malformed())
	})

	t.Run("good line resets the streak", func(t *testing.T) {
		sp := NewSplitter(3)
		sp.Feed("garbage\nmore garbage\n")
		items := sp.Feed("{\"t\":\"batch.end\"}\ngarbage again\n")
		require.Len(t, items, 1)
		assert.IsType(t, SignalItem{}, items[0])
		assert.Equal(t, 1, sp.Streak())
		assert.Equal(t, 3, sp.Malformed())
	})

	t.Run("blank lines do not extend or break a streak", func(t *testing.T) {
		sp := NewSplitter(3)
		items := sp.Feed("junk\n\n\njunk\n\njunk\n")
		require.Len(t, items, 1)
		assert.IsType(t, ParseFailureItem{}, items[0])
	})
}

func TestSplitterFlush(t *testing.T) {
	t.Run("trailing line without newline", func(t *testing.T) {
		sp := NewSplitter(3)
		assert.Empty(t, sp.Feed(`{"t":"voice","text":"tail"}`))
		items := sp.Flush()
		require.Len(t, items, 1)
		assert.Equal(t, "tail", items[0].(SignalItem).Signal.Text)
	})

	t.Run("flush on empty buffer", func(t *testing.T) {
		sp := NewSplitter(3)
		assert.Empty(t, sp.Flush())
	})
}

func TestSplitterPreservesArrivalOrder(t *testing.T) {
	sp := NewSplitter(3)
	items := sp.Feed("{\"t\":\"batch.start\"}\n" +
		"{\"t\":\"entity.create\",\"id\":\"a\",\"parent\":\"page\"}\n" +
		"{\"t\":\"entity.create\",\"id\":\"b\",\"parent\":\"page\"}\n" +
		"{\"t\":\"batch.end\"}\n")
	require.Len(t, items, 4)
	assert.Equal(t, SignalBatchStart, items[0].(SignalItem).Signal.Type)
	assert.Equal(t, "a", items[1].(OpItem).Op.ID)
	assert.Equal(t, "b", items[2].(OpItem).Op.ID)
	assert.Equal(t, SignalBatchEnd, items[3].(SignalItem).Signal.Type)
}
