// Package services wires the transport, the backend client, the local
// store and the retry queue into the message delivery workflow.
package services

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arkonsol/ark-app/contract"
	"github.com/arkonsol/ark-app/delivery"
	"github.com/arkonsol/ark-app/domain"
	apperrors "github.com/arkonsol/ark-app/errors"
	"github.com/arkonsol/ark-app/repositories"
)

const (
	defaultTypingQuiet  = 5 * time.Second
	deliveryTimeout     = 15 * time.Second
	historySyncPageSize = 50
	snapshotPageSize    = 50
)

// MessageService is the single entry point for sending, reading and
// synchronizing messages. Everything is persisted locally first, then
// delivered; a failed delivery lands in the retry queue and the caller
// keeps a message in StatusError until the queue resolves it one way
// or the other.
//
// It implements contract.Worker: Run drains the retry queue.
type MessageService struct {
	log       *slog.Logger
	transport contract.Transport
	backend   contract.Backend
	store     *repositories.LocalStore
	notifier  contract.Notifier
	queue     *delivery.Queue
	validate  *validator.Validate
	sender    domain.Sender

	typingQuiet time.Duration

	mu              sync.Mutex
	unsubscribes    []contract.Unsubscribe
	typingTimers    map[string]*time.Timer
	roomSubs        map[string]map[int]func(domain.Event)
	nextSubID       int
	fanned          map[string]struct{}
	resyncBusy      bool
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	background sync.WaitGroup
}

func NewMessageService(
	log *slog.Logger,
	transport contract.Transport,
	backend contract.Backend,
	store *repositories.LocalStore,
	notifier contract.Notifier,
	sender domain.Sender,
	policy delivery.RetryPolicy,
	queueTick time.Duration,
) *MessageService {
	s := &MessageService{
		log:          log,
		transport:    transport,
		backend:      backend,
		store:        store,
		notifier:     notifier,
		validate:     validator.New(),
		sender:       sender,
		typingQuiet:  defaultTypingQuiet,
		typingTimers: make(map[string]*time.Timer),
		roomSubs:     make(map[string]map[int]func(domain.Event)),
		fanned:       make(map[string]struct{}),
	}
	s.queue = delivery.NewQueue(log, policy, queueTick, s.retryDelivery, s.deadLetter)
	// Retries stay parked until the transport reports connected for the
	// first time; draining against a link that was never up only burns
	// the retry budget.
	s.queue.Pause()
	return s
}

// Start subscribes to transport events and dials the backend. A failed
// dial is not fatal: the transport keeps reconnecting on its own and
// the service catches up when the link comes back.
func (s *MessageService) Start(ctx context.Context) error {
	s.mu.Lock()
	s.lifecycleCtx, s.lifecycleCancel = context.WithCancel(context.Background())
	s.unsubscribes = append(s.unsubscribes,
		s.transport.SubscribeToStatus(s.handleStatus),
		s.transport.Subscribe("", s.handleEvent),
	)
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		s.log.Warn("Initial connection failed, transport will retry", "error", err)
		return err
	}
	return nil
}

// Stop detaches every subscription, cancels pending typing timers,
// waits for any in-flight resync and closes the transport. Queued
// retries stay on disk as StatusError messages and are resynchronized
// on the next Start.
func (s *MessageService) Stop() error {
	s.mu.Lock()
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	cancel := s.lifecycleCancel
	s.lifecycleCtx = nil
	s.lifecycleCancel = nil
	s.fanned = make(map[string]struct{})
	for roomID, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, roomID)
	}
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	// The local store must not be touched once Stop returns, so any
	// resync still running has to finish first.
	s.background.Wait()
	s.queue.Pause()
	return s.transport.Disconnect()
}

// Run drains the retry queue until the context is canceled.
func (s *MessageService) Run(ctx context.Context) error {
	return s.queue.Run(ctx)
}

// QueueDepth reports how many messages are waiting for a retry.
func (s *MessageService) QueueDepth() int {
	return s.queue.Len()
}

// Send persists the message in StatusSending, then attempts delivery.
// On failure the message is kept in StatusError, queued for retry and
// returned along with the error so the caller can render the failed
// state immediately. The returned message always carries the id that
// every later status update will use.
func (s *MessageService) Send(ctx context.Context, request domain.SendRequest) (domain.Message, error) {
	if err := s.validate.Struct(request); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", apperrors.ErrSendRejected, err)
	}
	if request.Sender == (domain.Sender{}) {
		request.Sender = s.sender
	}
	if request.ID == "" {
		request.ID = uuid.New().String()
	}

	message := request.ToMessage(request.ID, time.Now().UTC())
	if err := s.store.SaveMessage(message); err != nil {
		return domain.Message{}, fmt.Errorf("persist outgoing message: %w", err)
	}

	if err := s.attemptDelivery(ctx, message); err != nil {
		if goerrors.Is(err, apperrors.ErrSendRejected) {
			// Retrying an identical payload cannot succeed.
			s.markFailed(request, err)
			s.notifier.Terminal("Message was rejected by the server")
			message.Status = domain.StatusError
			message.Metadata.ErrorMessage = err.Error()
			return message, err
		}
		s.markFailed(request, err)
		s.queue.Enqueue(request)
		message.Status = domain.StatusError
		message.Metadata.ErrorMessage = err.Error()
		return message, err
	}

	message.Status = domain.StatusSent
	return message, nil
}

// attemptDelivery pushes one message over the wire and registers it
// server-side. Both must succeed; on success the local copy moves to
// StatusSent and any pending retry slot is released.
func (s *MessageService) attemptDelivery(ctx context.Context, message domain.Message) error {
	if s.transport.Status() != contract.StatusConnected {
		return apperrors.ErrNotConnected
	}

	event, err := domain.NewMessageEvent(message)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSendRejected, err)
	}
	if err = s.transport.Send(event); err != nil {
		return err
	}
	if _, err = s.backend.CreateMessage(ctx, message); err != nil {
		return err
	}

	// A message is never reported sent unless the sent state is durably
	// recorded; a failed write keeps it retryable.
	if err = s.store.UpdateStatus(message.ID, domain.StatusSent, ""); err != nil {
		return fmt.Errorf("record sent message %s: %w", message.ID, err)
	}
	s.queue.Remove(message.ID)
	return nil
}

// retryDelivery is the queue's sender callback. The stored message is
// reloaded so the retry carries the original timestamp.
func (s *MessageService) retryDelivery(request domain.SendRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	message, err := s.store.GetMessage(request.ID)
	if err != nil {
		if goerrors.Is(err, apperrors.ErrMessageNotFound) {
			// Deleted while waiting for its retry; nothing to deliver.
			return nil
		}
		return err
	}
	if message.Deleted() {
		return nil
	}
	message.Status = domain.StatusSending
	message.Metadata.ErrorMessage = ""
	return s.attemptDelivery(ctx, message)
}

func (s *MessageService) markFailed(request domain.SendRequest, cause error) {
	if err := s.store.UpdateStatus(request.ID, domain.StatusError, cause.Error()); err != nil {
		s.log.Warn("Could not persist StatusError", "messageId", request.ID, "error", err)
	}
}

// deadLetter is invoked by the queue once a message is undeliverable.
func (s *MessageService) deadLetter(request domain.SendRequest, cause error) {
	s.markFailed(request, cause)
	s.notifier.Terminal("Message could not be delivered: " + request.Content)
}

// ListMessages reads one page of room history from the local store.
func (s *MessageService) ListMessages(roomID string, limit int, cursor *string) ([]domain.Message, *string, error) {
	return s.store.ListMessages(roomID, limit, cursor, nil)
}

// SearchMessages queries the local full-text index.
func (s *MessageService) SearchMessages(roomID, query string, limit int) ([]domain.Message, error) {
	return s.store.SearchMessages(roomID, query, limit)
}

// DeleteMessage soft-deletes a message locally and releases its retry
// slot if it was still queued.
func (s *MessageService) DeleteMessage(id string) error {
	if err := s.store.SoftDelete(id); err != nil {
		return err
	}
	s.queue.Remove(id)
	return nil
}

// ToggleReaction applies the reaction locally first so the UI responds
// immediately, then confirms with the backend. A backend failure rolls
// the optimistic flip back.
func (s *MessageService) ToggleReaction(ctx context.Context, messageID, emoji string) (domain.Message, error) {
	username := s.sender.Username
	optimistic, err := s.store.ApplyReaction(messageID, emoji, username)
	if err != nil {
		return domain.Message{}, err
	}

	authoritative, err := s.backend.ToggleReaction(ctx, messageID, emoji, username)
	if err != nil {
		if _, revertErr := s.store.ApplyReaction(messageID, emoji, username); revertErr != nil {
			s.log.Warn("Could not revert optimistic reaction", "messageId", messageID, "error", revertErr)
		}
		s.notifier.Transient("Reaction could not be saved")
		return domain.Message{}, err
	}

	if err = s.store.SaveMessage(authoritative); err != nil {
		s.log.Warn("Could not persist authoritative reaction state", "messageId", messageID, "error", err)
		return optimistic, nil
	}
	return authoritative, nil
}

// SyncHistory pulls the latest server-side page for a room into the
// local store. Stored ids are upserted, so replaying a page the client
// already holds cannot duplicate anything.
func (s *MessageService) SyncHistory(ctx context.Context, roomID string) error {
	messages, _, err := s.backend.ListMessages(ctx, roomID, historySyncPageSize, nil)
	if err != nil {
		return fmt.Errorf("sync history for %s: %w", roomID, err)
	}
	return s.store.SaveMessages(messages)
}

// Typing announces that the local user is typing in a room. The
// matching stop signal is sent automatically after a quiet period;
// typing again before it fires just pushes the deadline back.
func (s *MessageService) Typing(roomID string) error {
	s.mu.Lock()
	if timer, ok := s.typingTimers[roomID]; ok {
		timer.Stop()
	}
	s.typingTimers[roomID] = time.AfterFunc(s.typingQuiet, func() {
		s.mu.Lock()
		delete(s.typingTimers, roomID)
		s.mu.Unlock()
		if err := s.transport.Send(domain.NewTypingEvent(roomID, s.sender.Username, false)); err != nil {
			s.log.Debug("Typing stop signal dropped", "roomId", roomID, "error", err)
		}
	})
	s.mu.Unlock()

	return s.transport.Send(domain.NewTypingEvent(roomID, s.sender.Username, true))
}

// SubscribeRoom attaches a UI-layer listener to a room. The stored
// room history is replayed to the new subscriber right away so it does
// not start from a blank screen; live events follow, each message id
// delivered at most once no matter how often the wire repeats it. An
// empty roomID subscribes to every room.
func (s *MessageService) SubscribeRoom(roomID string, fn func(domain.Event)) contract.Unsubscribe {
	s.mu.Lock()
	if s.roomSubs[roomID] == nil {
		s.roomSubs[roomID] = make(map[int]func(domain.Event))
	}
	id := s.nextSubID
	s.nextSubID++
	s.roomSubs[roomID][id] = fn
	s.mu.Unlock()

	s.deliverSnapshot(roomID, fn)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.roomSubs[roomID], id)
	}
}

// deliverSnapshot replays the first stored page of a room, oldest
// first, to a freshly attached subscriber.
func (s *MessageService) deliverSnapshot(roomID string, fn func(domain.Event)) {
	messages, _, err := s.store.ListMessages(roomID, snapshotPageSize, nil, nil)
	if err != nil {
		s.log.Warn("Could not load snapshot for subscriber", "roomId", roomID, "error", err)
		return
	}
	for _, message := range messages {
		event, err := domain.NewMessageEvent(message)
		if err != nil {
			continue
		}
		s.markFanned(message.ID)
		fn(event)
	}
}

// fanOut delivers one event to the room's subscribers and to the
// wildcard subscribers. Message events are deduplicated by id first:
// a duplicate wire delivery already seen by subscribers goes nowhere.
func (s *MessageService) fanOut(event domain.Event) {
	if event.Type == domain.EventMessage {
		message, err := event.MessagePayload()
		if err != nil {
			return
		}
		if !s.markFanned(message.ID) {
			return
		}
	}

	s.mu.Lock()
	fns := make([]func(domain.Event), 0, len(s.roomSubs[event.RoomID]))
	for _, fn := range s.roomSubs[event.RoomID] {
		fns = append(fns, fn)
	}
	if event.RoomID != "" {
		for _, fn := range s.roomSubs[""] {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// markFanned records a message id as delivered to subscribers and
// reports whether it was new.
func (s *MessageService) markFanned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fanned[id]; ok {
		return false
	}
	s.fanned[id] = struct{}{}
	return true
}

// handleEvent processes one inbound envelope.
func (s *MessageService) handleEvent(event domain.Event) {
	switch event.Type {
	case domain.EventMessage:
		s.handleInboundMessage(event)
	case domain.EventStatus:
		payload, err := event.StatusUpdate()
		if err != nil {
			s.log.Warn("Malformed status event", "error", err)
			return
		}
		if err = s.store.UpdateStatus(payload.MessageID, payload.Status, ""); err != nil {
			s.log.Warn("Could not apply status update", "messageId", payload.MessageID, "error", err)
		}
	case domain.EventReaction:
		payload, err := event.ReactionUpdate()
		if err != nil {
			s.log.Warn("Malformed reaction event", "error", err)
			return
		}
		if _, err = s.store.ApplyReaction(payload.MessageID, payload.Emoji, payload.Username); err != nil {
			s.log.Warn("Could not apply reaction", "messageId", payload.MessageID, "error", err)
		}
	case domain.EventError:
		s.notifier.Transient(event.ErrorText())
		return
	case domain.EventTyping:
		// Presentation-only; nothing to persist.
	}
	s.fanOut(event)
}

// handleInboundMessage stores a message pushed by the server. The
// server echoes our own sends back to the room; those are recognized
// by id and only advance in status instead of being stored twice.
func (s *MessageService) handleInboundMessage(event domain.Event) {
	message, err := event.MessagePayload()
	if err != nil {
		s.log.Warn("Malformed message event", "error", err)
		return
	}

	known, err := s.store.HasMessage(message.ID)
	if err != nil {
		s.log.Warn("Could not check for duplicate", "messageId", message.ID, "error", err)
		return
	}
	if known {
		stored, err := s.store.GetMessage(message.ID)
		if err != nil {
			s.log.Warn("Could not load duplicate", "messageId", message.ID, "error", err)
			return
		}
		// An echo only ever moves the status forward: a message the
		// user already read must not fall back to delivered.
		switch stored.Status {
		case domain.StatusSending, domain.StatusSent:
			if err = s.store.UpdateStatus(message.ID, domain.StatusDelivered, ""); err != nil {
				s.log.Warn("Could not advance delivery status", "messageId", message.ID, "error", err)
			}
		}
		return
	}

	if message.Status == "" || message.Status == domain.StatusSending {
		message.Status = domain.StatusDelivered
	}
	if err = s.store.SaveMessage(message); err != nil {
		s.log.Warn("Could not store inbound message", "messageId", message.ID, "error", err)
	}
}

// handleStatus reacts to connection state changes: pausing retries
// while the link is down and resynchronizing once it is back.
func (s *MessageService) handleStatus(status contract.ConnectionStatus) {
	switch status {
	case contract.StatusDisconnected:
		s.queue.Pause()
		s.notifier.Transient("Connection lost")
	case contract.StatusReconnecting:
		s.queue.Pause()
		s.notifier.Transient("Reconnecting…")
	case contract.StatusUnavailable:
		s.queue.Pause()
		s.notifier.Terminal("Connection unavailable, messages will be kept until you reconnect")
	case contract.StatusConnected:
		s.notifier.Transient("Connected")
		s.mu.Lock()
		if ctx := s.lifecycleCtx; ctx != nil {
			s.background.Add(1)
			go func() {
				defer s.background.Done()
				s.resync(ctx)
			}()
		}
		s.mu.Unlock()
	case contract.StatusConnecting:
	}
}

// resync replays every StatusError message after a reconnect, then
// resumes the queue for whatever is still failing. Only one resync
// runs at a time, and Stop cancels the context and waits it out.
func (s *MessageService) resync(ctx context.Context) {
	s.mu.Lock()
	if s.resyncBusy {
		s.mu.Unlock()
		return
	}
	s.resyncBusy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resyncBusy = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	failed, err := s.store.ListByStatus(domain.StatusError)
	if err != nil {
		s.log.Warn("Resync scan failed", "error", err)
		s.queue.Resume()
		return
	}

	for _, message := range failed {
		if ctx.Err() != nil {
			// Stopped mid-replay; the rest stays in StatusError for the
			// next Start.
			return
		}
		if err = s.attemptDelivery(ctx, message); err != nil {
			s.queue.Enqueue(domain.RequestFrom(message))
		}
	}
	if len(failed) > 0 {
		s.log.Info("Resync finished", "replayed", len(failed), "stillQueued", s.queue.Len())
	}
	s.queue.Resume()
}
