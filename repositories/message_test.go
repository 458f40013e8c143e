package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMessage(roomID, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:      uuid.New().String(),
		RoomID:  roomID,
		Sender:  domain.Sender{Username: "alice", WalletAddress: "wallet-alice"},
		Type:    domain.TypeText,
		Content: content,
		At:      at,
		Status:  domain.StatusSent,
	}
}

func Test_Store_And_Get_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	message := testMessage("room1", "hello PAO", time.Now().UTC())
	req.NoError(repository.StoreMessage(message))

	fetched, err := repository.GetMessage(message.ID)
	req.NoError(err)
	req.Equal(message.ID, fetched.ID)
	req.Equal(message.Content, fetched.Content)

	found, err := repository.HasMessage(message.ID)
	req.NoError(err)
	req.True(found)

	_, err = repository.GetMessage("missing")
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func Test_Store_Same_ID_Twice_Keeps_One_Copy(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	message := testMessage("room1", "first attempt", time.Now().UTC())
	req.NoError(repository.StoreMessage(message))

	// A retry rewrites the same identity with a newer timestamp.
	message.At = message.At.Add(2 * time.Second)
	message.Status = domain.StatusError
	req.NoError(repository.StoreMessage(message))

	fetched, _, err := repository.GetMessages("room1", 10, nil, nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal(domain.StatusError, fetched[0].Status)
}

func Test_Get_Messages_Sorted_Chronologically(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	contents := []string{"one", "two", "three"}
	// Stored out of order on purpose.
	for _, i := range []int{2, 0, 1} {
		req.NoError(repository.StoreMessage(testMessage("room1", contents[i], at.Add(time.Duration(i)*time.Minute))))
	}

	fetched, next, err := repository.GetMessages("room1", 10, nil, nil)
	req.NoError(err)
	req.Nil(next)
	req.Equal(contents, lo.Map(fetched, func(m domain.Message, _ int) string { return m.Content }))
}

func Test_Pagination_Covers_All_Messages_Once(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	total := 7
	var ids []string
	for i := 0; i < total; i++ {
		message := testMessage("room1", "msg", at.Add(time.Duration(i)*time.Second))
		ids = append(ids, message.ID)
		req.NoError(repository.StoreMessage(message))
	}

	var collected []string
	var cursor *string
	for {
		page, next, err := repository.GetMessages("room1", 3, cursor, nil)
		req.NoError(err)
		collected = append(collected, lo.Map(page, func(m domain.Message, _ int) string { return m.ID })...)
		if next == nil {
			break
		}
		cursor = next
	}
	req.Equal(ids, collected)
}

func Test_Deleted_Messages_Are_Skipped(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	kept := testMessage("room1", "kept", at)
	deleted := testMessage("room1", "deleted", at.Add(time.Second))
	deleted.DeletedAt = lo.ToPtr(at.Add(time.Minute))
	req.NoError(repository.StoreMessage(kept))
	req.NoError(repository.StoreMessage(deleted))

	fetched, _, err := repository.GetMessages("room1", 10, nil, nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("kept", fetched[0].Content)
}

func Test_Get_Messages_By_Status_Across_Rooms(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	failed1 := testMessage("room1", "failed one", at)
	failed1.Status = domain.StatusError
	failed2 := testMessage("room2", "failed two", at.Add(time.Second))
	failed2.Status = domain.StatusError
	sent := testMessage("room1", "fine", at.Add(2*time.Second))

	for _, m := range []domain.Message{failed1, failed2, sent} {
		req.NoError(repository.StoreMessage(m))
	}

	fetched, err := repository.GetMessagesByStatus(domain.StatusError)
	req.NoError(err)
	req.Len(fetched, 2)
	for _, m := range fetched {
		req.Equal(domain.StatusError, m.Status)
	}
}

func Test_Store_Messages_Batch(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	batch := []domain.Message{
		testMessage("room1", "a", at),
		testMessage("room1", "b", at.Add(time.Second)),
		testMessage("room2", "c", at.Add(2*time.Second)),
	}
	req.NoError(repository.StoreMessages(batch))

	room1, _, err := repository.GetMessages("room1", 10, nil, nil)
	req.NoError(err)
	req.Len(room1, 2)

	room2, _, err := repository.GetMessages("room2", 10, nil, nil)
	req.NoError(err)
	req.Len(room2, 1)
}
