// File: cmd/notifier/main.go
package main

import (
	"context"
	"log" // Standard log for critical startup messages before zap is active
	"os"
	"os/signal"
	"syscall"

	"quickfix_notify/internal/api"
	"quickfix_notify/internal/config"
	"quickfix_notify/internal/notification"
	"quickfix_notify/internal/platform/logger"
	"quickfix_notify/internal/session"
	"quickfix_notify/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	if cfg.NotifyUserID == 0 {
		appLogger.Fatal("NOTIFY_USER_ID is not set; the notifier needs an identity to subscribe with")
	}
	role := notification.Role(cfg.NotifyRole)
	if !role.Valid() {
		appLogger.Fatal("NOTIFY_ROLE must be 'user' or 'provider'", zap.String("role", cfg.NotifyRole))
	}

	apiClient := api.NewRestClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout)
	manager := session.NewManager(cfg, appLogger, apiClient)

	ctx := context.Background()
	if err := manager.Start(ctx, cfg.NotifyUserID, role); err != nil {
		appLogger.Fatal("Failed to start notification session", zap.Error(err))
	}

	events, cancel, err := manager.Subscribe()
	if err != nil {
		appLogger.Fatal("Failed to subscribe to session events", zap.Error(err))
	}
	defer cancel()

	go consumeEvents(appLogger, manager, events)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	manager.Stop()
	appLogger.Info("Notifier exiting")
}

// consumeEvents renders session events the way a UI would: alerts, badge
// updates and error toasts, as log lines.
func consumeEvents(appLogger *zap.Logger, manager *session.Manager, events <-chan session.Event) {
	for event := range events {
		switch event.Type {
		case store.EventAlert:
			appLogger.Info("ALERT",
				zap.String("level", string(event.Alert.Level)),
				zap.Duration("duration", event.Alert.Duration),
				zap.String("title", event.Notification.Title),
				zap.String("message", event.Notification.Message),
			)
		case store.EventUnreadChanged:
			appLogger.Info("Unread badge", zap.Int("count", event.Unread))
		case store.EventListChanged:
			appLogger.Debug("Notification list changed", zap.Int("size", len(manager.Notifications())))
		case store.EventOperationFailed:
			appLogger.Warn("Operation failed", zap.Error(event.Err))
		case store.EventLiveUpdatesLost:
			appLogger.Warn("Live updates unavailable, relying on polling fallback", zap.Error(event.Err))
		}
	}
}
