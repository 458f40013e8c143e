// Package search maintains a full-text index over message content so
// the client can search its local history while offline.
package search

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"

	"github.com/arkonsol/ark-app/domain"
)

// Index wraps a bluge writer. Documents are keyed by message id; the
// room is a keyword field so searches can be scoped to one room.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(writer *bluge.Writer, log *slog.Logger) *Index {
	return &Index{writer: writer, log: log}
}

// Index upserts a message document. Only content and sender are
// analyzed; the stored _id brings the hit back to BadgerDB.
func (i *Index) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID).
		AddField(bluge.NewKeywordField("room", message.RoomID).StoreValue()).
		AddField(bluge.NewTextField("content", message.Content)).
		AddField(bluge.NewTextField("sender", message.Sender.Username))
	return i.writer.Update(doc.ID(), doc)
}

// Remove drops a message from the index, typically after a soft delete.
func (i *Index) Remove(id string) error {
	return i.writer.Delete(bluge.Identifier(id))
}

// Search returns the ids of the best matching messages in a room.
func (i *Index) Search(roomID, query string, limit int) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	match := bluge.NewMatchQuery(query).SetField("content")
	q := bluge.NewBooleanQuery().AddMust(match)
	if roomID != "" {
		q.AddMust(bluge.NewTermQuery(roomID).SetField("room"))
	}
	if limit <= 0 {
		limit = 20
	}

	iterator, err := reader.Search(context.Background(), bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var ids []string
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
