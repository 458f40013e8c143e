package search

import (
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arkonsol/ark-app/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewIndex(writer, slog.Default())
}

func message(roomID, content string) domain.Message {
	return domain.Message{
		ID:      uuid.New().String(),
		RoomID:  roomID,
		Sender:  domain.Sender{Username: "alice"},
		Type:    domain.TypeText,
		Content: content,
		At:      time.Now().UTC(),
		Status:  domain.StatusSent,
	}
}

func Test_Search_Scoped_To_Room(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	hit := message("room1", "the treasury proposal passed")
	req.NoError(index.Index(hit))
	req.NoError(index.Index(message("room2", "treasury update for another room")))
	req.NoError(index.Index(message("room1", "lunch plans")))

	ids, err := index.Search("room1", "treasury", 10)
	req.NoError(err)
	req.Equal([]string{hit.ID}, ids)
}

func Test_Remove_Drops_Document(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	m := message("room1", "ephemeral note")
	req.NoError(index.Index(m))
	req.NoError(index.Remove(m.ID))

	ids, err := index.Search("room1", "ephemeral", 10)
	req.NoError(err)
	req.Empty(ids)
}

func Test_Reindex_Same_ID_Updates_Document(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	m := message("room1", "draft wording")
	req.NoError(index.Index(m))

	m.Content = "final wording"
	req.NoError(index.Index(m))

	ids, err := index.Search("room1", "final", 10)
	req.NoError(err)
	req.Equal([]string{m.ID}, ids)

	ids, err = index.Search("room1", "draft", 10)
	req.NoError(err)
	req.Empty(ids)
}
