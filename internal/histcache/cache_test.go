package histcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "hist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func msg(roomID, id, content string, ts time.Time) model.Message {
	return model.Message{
		ID: id, ChatRoomID: roomID, SenderID: "u1", Content: content,
		Type: model.EventChat, Timestamp: ts,
	}
}

func TestLoadUnknownRoom(t *testing.T) {
	c := openTemp(t)
	msgs, err := c.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestAppendKeepsTimeOrder(t *testing.T) {
	c := openTemp(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Appended out of order; iteration is keyed by timestamp.
	require.NoError(t, c.Append(msg("r1", "2", "second", base.Add(time.Minute))))
	require.NoError(t, c.Append(msg("r1", "1", "first", base)))
	require.NoError(t, c.Append(msg("r1", "3", "third", base.Add(2*time.Minute))))

	msgs, err := c.Load("r1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestReplaceRoomSwapsHistory(t *testing.T) {
	c := openTemp(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.Append(msg("r1", "old", "stale", base)))

	fresh := []model.Message{
		msg("r1", "10", "a", base.Add(time.Hour)),
		msg("r1", "11", "b", base.Add(time.Hour+time.Minute)),
	}
	require.NoError(t, c.ReplaceRoom("r1", fresh))

	msgs, err := c.Load("r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
}

func TestRoomsAreIsolated(t *testing.T) {
	c := openTemp(t)
	now := time.Now().UTC()
	require.NoError(t, c.Append(msg("r1", "1", "one", now)))
	require.NoError(t, c.Append(msg("r2", "2", "two", now)))

	msgs, err := c.Load("r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Content)
}

func TestPendingMessageKeyedByClientID(t *testing.T) {
	c := openTemp(t)
	m := model.Message{
		ClientID: "c-1", ChatRoomID: "r1", SenderID: "u1", Content: "pending",
		Type: model.EventChat, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, c.Append(m))

	msgs, err := c.Load("r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-1", msgs[0].ClientID)
}
