//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arkonsol/ark-app/domain"
	apperrors "github.com/arkonsol/ark-app/errors"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	StoreMessages(messages []domain.Message) error
	GetMessage(id string) (domain.Message, error)
	HasMessage(id string) (bool, error)
	GetMessages(roomID string, limit int, cursor *string, status *domain.MessageStatus) ([]domain.Message, *string, error)
	GetMessagesByStatus(status domain.MessageStatus) ([]domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// dataKey is formatted as "msg:{room_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the message id as a collision
//     disconnector if two messages arrive at the same nanosecond.
func dataKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.RoomID, m.At.UnixNano(), m.ID))
}

// indexKey points from a message id to its current data key, so that
// status updates can find a message without knowing its timestamp.
func indexKey(id string) []byte {
	return []byte("msgid:" + id)
}

// StoreMessage persists a message in BadgerDB, updating it in place if
// the id is already known. The data key embeds the timestamp, so an
// upsert whose timestamp changed deletes the stale entry first.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return storeInTxn(txn, message)
	})
}

// StoreMessages persists a batch atomically. Used by history sync where
// a page either lands entirely or not at all.
func (m MessageRepository) StoreMessages(messages []domain.Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		for _, message := range messages {
			if err := storeInTxn(txn, message); err != nil {
				return err
			}
		}
		return nil
	})
}

func storeInTxn(txn *badger.Txn, message domain.Message) error {
	key := dataKey(message)
	item, err := txn.Get(indexKey(message.ID))
	switch {
	case err == nil:
		previous, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(previous) != string(key) {
			if err = txn.Delete(previous); err != nil {
				return err
			}
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err = txn.Set(key, bytes); err != nil {
		return err
	}
	return txn.Set(indexKey(message.ID), key)
}

// GetMessage resolves a message by id through the index.
func (m MessageRepository) GetMessage(id string) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		dataItem, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		return dataItem.Value(func(value []byte) error {
			return json.Unmarshal(value, &message)
		})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// HasMessage reports whether a message id is already stored. Cheaper
// than GetMessage because the value is never loaded.
func (m MessageRepository) HasMessage(id string) (bool, error) {
	var found bool
	err := m.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// GetMessages retrieves messages for a room using a prefix scan, oldest
// first. Thanks to the padded timestamp in the key, messages are
// naturally sorted by time. Soft-deleted messages are skipped, an
// optional status narrows the result, and pagination is resumed with
// the returned cursor (the key suffix of the last message of the page).
// An empty roomID scans every room; used for maintenance queries.
func (m MessageRepository) GetMessages(roomID string, limit int, cursor *string, status *domain.MessageStatus) ([]domain.Message, *string, error) {
	var messages []domain.Message
	var lastKey string
	var more bool

	prefixStr := "msg:"
	if roomID != "" {
		prefixStr = fmt.Sprintf("msg:%s:", roomID)
	}
	prefix := []byte(prefixStr)

	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix
		if cursor != nil {
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}
		it.Seek(seekKey)
		// The cursor names the last message of the previous page; resume
		// strictly after it.
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var message domain.Message
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			})
			if err != nil {
				return err
			}
			if message.Deleted() {
				continue
			}
			if status != nil && message.Status != *status {
				continue
			}
			if limit > 0 && len(messages) == limit {
				more = true
				break
			}
			messages = append(messages, message)
			lastKey = string(item.Key()[len(prefixStr):])
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *string
	if more {
		nextCursor = &lastKey
	}
	return messages, nextCursor, nil
}

// GetMessagesByStatus scans every room for messages in the given
// status. Drives the resynchronization of failed sends on reconnect.
func (m MessageRepository) GetMessagesByStatus(status domain.MessageStatus) ([]domain.Message, error) {
	started := time.Now()
	messages, _, err := m.GetMessages("", 0, nil, &status)
	if err != nil {
		return nil, err
	}
	m.log.Debug("Status scan finished",
		"status", string(status), "count", len(messages), "took", time.Since(started))
	return messages, nil
}
