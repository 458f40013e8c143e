package services

import (
	"log/slog"
	"sync"
)

// BannerNotifier implements contract.Notifier for headless use. A
// transient notification replaces the previous one, like a connection
// banner; terminal notifications accumulate until the user clears
// them.
type BannerNotifier struct {
	log *slog.Logger

	mu        sync.Mutex
	transient string
	terminals []string
}

func NewBannerNotifier(log *slog.Logger) *BannerNotifier {
	return &BannerNotifier{log: log}
}

func (n *BannerNotifier) Transient(message string) {
	n.mu.Lock()
	n.transient = message
	n.mu.Unlock()
	n.log.Info("Notification", "message", message)
}

func (n *BannerNotifier) Terminal(message string) {
	n.mu.Lock()
	n.terminals = append(n.terminals, message)
	n.mu.Unlock()
	n.log.Error("Notification requires attention", "message", message)
}

// Banner returns the current transient notification.
func (n *BannerNotifier) Banner() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transient
}

// Pending returns and clears the accumulated terminal notifications.
func (n *BannerNotifier) Pending() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	pending := n.terminals
	n.terminals = nil
	return pending
}
