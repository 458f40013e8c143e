//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"github.com/arkonsol/ark-app/domain"
)

// ConnectionStatus is the observable state of the transport connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	// StatusUnavailable is surfaced once the reconnect budget is spent.
	// The client stops retrying on its own; a manual Connect restarts it.
	StatusUnavailable ConnectionStatus = "unavailable"
)

// Unsubscribe detaches the listener it was returned for. Safe to call
// more than once.
type Unsubscribe func()

// Transport is the single long-lived duplex connection to the
// messaging backend.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() ConnectionStatus
	Send(event domain.Event) error
	Subscribe(roomID string, fn func(domain.Event)) Unsubscribe
	SubscribeToStatus(fn func(ConnectionStatus)) Unsubscribe
}

// Backend is the HTTP collaborator owning server-side persistence.
type Backend interface {
	CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, roomID string, limit int, cursor *string) ([]domain.Message, *string, error)
	ToggleReaction(ctx context.Context, messageID, emoji, username string) (domain.Message, error)
}

// Notifier surfaces user-facing notifications. Transient ones replace
// each other (connection banners); terminal ones demand user action
// (a message that will never be delivered).
type Notifier interface {
	Transient(message string)
	Terminal(message string)
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself. Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the
// Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
