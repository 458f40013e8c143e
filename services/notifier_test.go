package services

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBannerNotifier_Transient_Replaces(t *testing.T) {
	req := require.New(t)
	notifier := NewBannerNotifier(slog.Default())

	notifier.Transient("Reconnecting…")
	notifier.Transient("Connected")

	req.Equal("Connected", notifier.Banner())
}

func TestBannerNotifier_Terminals_Accumulate_Until_Read(t *testing.T) {
	req := require.New(t)
	notifier := NewBannerNotifier(slog.Default())

	notifier.Terminal("message one undeliverable")
	notifier.Terminal("message two undeliverable")

	pending := notifier.Pending()
	req.Len(pending, 2)
	req.Empty(notifier.Pending())
}
