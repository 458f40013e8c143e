package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/arkonsol/ark-app/cache"
	"github.com/arkonsol/ark-app/domain"
)

const (
	defaultTTL = 30 * time.Second
	userTTL    = 60 * time.Second
)

// Searcher is the optional full-text index over message content.
type Searcher interface {
	Index(message domain.Message) error
	Remove(id string) error
	Search(roomID, query string, limit int) ([]string, error)
}

// LocalStore fronts the durable repositories with the read-through
// cache and keeps the search index in step with every write. It is the
// single persistence entry point for the services layer.
type LocalStore struct {
	messages IMessageRepository
	users    IUserRepository
	members  IMemberRepository
	cache    *cache.Cache
	searcher Searcher
	log      *slog.Logger
}

func NewLocalStore(
	messages IMessageRepository,
	users IUserRepository,
	members IMemberRepository,
	c *cache.Cache,
	searcher Searcher,
	log *slog.Logger,
) *LocalStore {
	return &LocalStore{
		messages: messages,
		users:    users,
		members:  members,
		cache:    c,
		searcher: searcher,
		log:      log,
	}
}

func messagesCacheKey(roomID string, limit int, cursor *string, status *domain.MessageStatus) string {
	return fmt.Sprintf("messages:%s:%d:%s:%s",
		roomID, limit, lo.FromPtrOr(cursor, "first"), lo.FromPtrOr(status, ""))
}

// SaveMessage writes through to disk, drops every cached page of the
// room and refreshes the search index.
func (s *LocalStore) SaveMessage(message domain.Message) error {
	if err := s.messages.StoreMessage(message); err != nil {
		return err
	}
	s.cache.Invalidate("messages:" + message.RoomID)
	s.index(message)
	return nil
}

// SaveMessages persists a page of history atomically. Cached pages are
// invalidated once per distinct room.
func (s *LocalStore) SaveMessages(messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	if err := s.messages.StoreMessages(messages); err != nil {
		return err
	}
	for _, roomID := range lo.Uniq(lo.Map(messages, func(m domain.Message, _ int) string { return m.RoomID })) {
		s.cache.Invalidate("messages:" + roomID)
	}
	for _, message := range messages {
		s.index(message)
	}
	return nil
}

func (s *LocalStore) index(message domain.Message) {
	if s.searcher == nil {
		return
	}
	var err error
	if message.Deleted() {
		err = s.searcher.Remove(message.ID)
	} else {
		err = s.searcher.Index(message)
	}
	if err != nil {
		// The durable write already succeeded; a stale index entry is
		// repaired by the next write of the same message.
		s.log.Warn("Search index update failed", "messageId", message.ID, "error", err)
	}
}

func (s *LocalStore) GetMessage(id string) (domain.Message, error) {
	return s.messages.GetMessage(id)
}

func (s *LocalStore) HasMessage(id string) (bool, error) {
	return s.messages.HasMessage(id)
}

// ListMessages serves one page of room history, cached for a short TTL.
func (s *LocalStore) ListMessages(roomID string, limit int, cursor *string, status *domain.MessageStatus) ([]domain.Message, *string, error) {
	type page struct {
		Messages   []domain.Message
		NextCursor *string
	}
	result, err := cache.GetCached(s.cache, messagesCacheKey(roomID, limit, cursor, status), defaultTTL,
		func() (page, error) {
			messages, next, err := s.messages.GetMessages(roomID, limit, cursor, status)
			return page{Messages: messages, NextCursor: next}, err
		})
	if err != nil {
		return nil, nil, err
	}
	return result.Messages, result.NextCursor, nil
}

func (s *LocalStore) ListByStatus(status domain.MessageStatus) ([]domain.Message, error) {
	return s.messages.GetMessagesByStatus(status)
}

// UpdateStatus mutates the delivery status of a stored message.
// errorMessage is recorded for StatusError and cleared otherwise.
func (s *LocalStore) UpdateStatus(id string, status domain.MessageStatus, errorMessage string) error {
	message, err := s.messages.GetMessage(id)
	if err != nil {
		return err
	}
	message.Status = status
	if status == domain.StatusError {
		message.Metadata.ErrorMessage = errorMessage
	} else {
		message.Metadata.ErrorMessage = ""
	}
	return s.SaveMessage(message)
}

// ApplyReaction flips a reaction on a stored message.
func (s *LocalStore) ApplyReaction(messageID, emoji, username string) (domain.Message, error) {
	message, err := s.messages.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	message.ToggleReaction(emoji, username)
	if err = s.SaveMessage(message); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// SoftDelete keeps the record on disk but hides it from listings and
// the search index.
func (s *LocalStore) SoftDelete(id string) error {
	message, err := s.messages.GetMessage(id)
	if err != nil {
		return err
	}
	message.DeletedAt = lo.ToPtr(time.Now().UTC())
	return s.SaveMessage(message)
}

// SearchMessages resolves full-text matches back into stored messages.
// Hits whose record vanished since indexing are dropped silently.
func (s *LocalStore) SearchMessages(roomID, query string, limit int) ([]domain.Message, error) {
	if s.searcher == nil {
		return nil, nil
	}
	ids, err := s.searcher.Search(roomID, query, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		message, err := s.messages.GetMessage(id)
		if err != nil {
			continue
		}
		if !message.Deleted() {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func (s *LocalStore) SaveUser(user domain.User) error {
	if err := s.users.StoreUser(user); err != nil {
		return err
	}
	// A rename changes the username index too, so every cached user
	// lookup is dropped rather than chasing both key shapes.
	s.cache.Invalidate("user:")
	return nil
}

func (s *LocalStore) GetUser(walletAddress string) (domain.User, error) {
	return cache.GetCached(s.cache, "user:"+walletAddress, userTTL, func() (domain.User, error) {
		return s.users.GetUser(walletAddress)
	})
}

func (s *LocalStore) GetUserByUsername(username string) (domain.User, error) {
	return cache.GetCached(s.cache, "user:username:"+username, userTTL, func() (domain.User, error) {
		return s.users.GetUserByUsername(username)
	})
}

func (s *LocalStore) SaveMember(member domain.Member) error {
	if err := s.members.StoreMember(member); err != nil {
		return err
	}
	s.cache.Invalidate("room:" + member.RoomID + ":members")
	return nil
}

func (s *LocalStore) GetMembers(roomID string) ([]domain.Member, error) {
	return cache.GetCached(s.cache, "room:"+roomID+":members", defaultTTL, func() ([]domain.Member, error) {
		return s.members.GetMembers(roomID)
	})
}

func (s *LocalStore) RemoveMember(roomID, walletAddress string) error {
	if err := s.members.RemoveMember(roomID, walletAddress); err != nil {
		return err
	}
	s.cache.Invalidate("room:" + roomID + ":members")
	return nil
}
