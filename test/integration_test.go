package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/arkonsol/ark-app/backend"
	"github.com/arkonsol/ark-app/cache"
	"github.com/arkonsol/ark-app/delivery"
	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/repositories"
	"github.com/arkonsol/ark-app/runtime/workers"
	"github.com/arkonsol/ark-app/search"
	"github.com/arkonsol/ark-app/services"
	"github.com/arkonsol/ark-app/transport"
)

// wsHub is the test stand-in for the realtime side of the backend. It
// records inbound frames and can broadcast events to every client.
type wsHub struct {
	server   *httptest.Server
	received chan domain.Event

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWsHub(t *testing.T) *wsHub {
	t.Helper()
	upgrader := websocket.Upgrader{}
	hub := &wsHub{received: make(chan domain.Event, 32)}
	hub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.mu.Lock()
		hub.conns = append(hub.conns, conn)
		hub.mu.Unlock()
		for {
			var event domain.Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			hub.received <- event
		}
	}))
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *wsHub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *wsHub) broadcast(t *testing.T, event domain.Event) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.conns {
		require.NoError(t, conn.WriteJSON(event))
	}
}

// messageAPI is the HTTP side of the backend: it stores created
// messages in memory and serves them back.
type messageAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	messages []domain.Message
	failing  bool
}

func newMessageAPI(t *testing.T) *messageAPI {
	t.Helper()
	api := &messageAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		if api.failing {
			http.Error(w, "maintenance", http.StatusInternalServerError)
			return
		}
		switch r.Method {
		case http.MethodPost:
			var body struct {
				RoomID  string `json:"roomId"`
				Content string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			message := domain.Message{
				ID:      "srv-" + body.Content,
				RoomID:  body.RoomID,
				Content: body.Content,
				At:      time.Now().UTC(),
				Status:  domain.StatusSent,
			}
			api.messages = append(api.messages, message)
			_ = json.NewEncoder(w).Encode(message)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages":   api.messages,
				"nextCursor": nil,
			})
		}
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *messageAPI) setFailing(failing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = failing
}

func (a *messageAPI) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

func Test_Full_Stack_Delivery(t *testing.T) {
	req := require.New(t)
	cfg, err := LoadConfig()
	req.NoError(err)
	log := logs.GetLoggerFromString(cfg.LogLevel)

	hub := newWsHub(t)
	api := newMessageAPI(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = blugeWriter.Close() })

	localCache := cache.New(log, time.Minute)
	store := repositories.NewLocalStore(
		repositories.NewMessageRepository(db, log),
		repositories.NewUserRepository(db),
		repositories.NewMemberRepository(db),
		localCache,
		search.NewIndex(blugeWriter, log),
		log,
	)

	transportClient, err := transport.NewClient(transport.Config{
		URL:               hub.url(),
		ReconnectInterval: 50 * time.Millisecond,
	}, log)
	req.NoError(err)

	backendClient, err := backend.NewClient(backend.Config{BaseURL: api.server.URL}, log)
	req.NoError(err)

	notifier := services.NewBannerNotifier(log)
	service := services.NewMessageService(
		log, transportClient, backendClient, store, notifier,
		domain.Sender{Username: "alice", WalletAddress: "wallet-alice"},
		delivery.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		cfg.QueueTick,
	)

	req.NoError(service.Start(context.Background()))
	t.Cleanup(func() { _ = service.Stop() })

	sup := workers.NewSupervisor(log, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Add(service, localCache).Run(ctx)

	// A message sent while everything is up reaches both backend legs.
	message, err := service.Send(context.Background(), domain.SendRequest{
		RoomID:  "room1",
		Content: "hello from integration",
	})
	req.NoError(err)
	req.Equal(domain.StatusSent, message.Status)

	select {
	case event := <-hub.received:
		req.Equal(domain.EventMessage, event.Type)
	case <-time.After(cfg.WaitTimeout):
		req.Fail("no frame reached the websocket hub")
	}
	req.Equal(1, api.count())

	// A message from another participant lands in the local store.
	inboundEvent, err := domain.NewMessageEvent(domain.Message{
		ID:      "remote-1",
		RoomID:  "room1",
		Sender:  domain.Sender{Username: "bob", WalletAddress: "wallet-bob"},
		Content: "greetings from bob",
		At:      time.Now().UTC(),
	})
	req.NoError(err)
	hub.broadcast(t, inboundEvent)

	req.Eventually(func() bool {
		messages, _, err := service.ListMessages("room1", 10, nil)
		return err == nil && len(messages) == 2
	}, cfg.WaitTimeout, 20*time.Millisecond)

	// Both messages are searchable locally.
	req.Eventually(func() bool {
		hits, err := service.SearchMessages("room1", "greetings", 10)
		return err == nil && len(hits) == 1
	}, cfg.WaitTimeout, 20*time.Millisecond)
}

func Test_Full_Stack_Retry_After_Backend_Outage(t *testing.T) {
	req := require.New(t)
	cfg, err := LoadConfig()
	req.NoError(err)
	log := logs.GetLoggerFromString(cfg.LogLevel)

	hub := newWsHub(t)
	api := newMessageAPI(t)
	api.setFailing(true)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	localCache := cache.New(log, time.Minute)
	store := repositories.NewLocalStore(
		repositories.NewMessageRepository(db, log),
		repositories.NewUserRepository(db),
		repositories.NewMemberRepository(db),
		localCache,
		nil,
		log,
	)

	transportClient, err := transport.NewClient(transport.Config{
		URL:               hub.url(),
		ReconnectInterval: 50 * time.Millisecond,
	}, log)
	req.NoError(err)

	backendClient, err := backend.NewClient(backend.Config{BaseURL: api.server.URL}, log)
	req.NoError(err)

	service := services.NewMessageService(
		log, transportClient, backendClient, store, services.NewBannerNotifier(log),
		domain.Sender{Username: "alice", WalletAddress: "wallet-alice"},
		delivery.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		cfg.QueueTick,
	)

	req.NoError(service.Start(context.Background()))
	t.Cleanup(func() { _ = service.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup := workers.NewSupervisor(log, 50*time.Millisecond)
	go sup.Add(service).Run(ctx)

	// The backend is down: the send fails and lands in the queue.
	failed, err := service.Send(context.Background(), domain.SendRequest{
		RoomID:  "room1",
		Content: "stubborn message",
	})
	req.Error(err)
	req.Equal(domain.StatusError, failed.Status)
	req.Equal(1, service.QueueDepth())

	// Once the backend recovers, the queue delivers it on its own.
	api.setFailing(false)

	req.Eventually(func() bool {
		messages, _, err := service.ListMessages("room1", 10, nil)
		if err != nil || len(messages) != 1 {
			return false
		}
		return messages[0].Status == domain.StatusSent
	}, cfg.WaitTimeout, 20*time.Millisecond)
	req.Equal(0, service.QueueDepth())
	req.Equal(1, api.count())
}
