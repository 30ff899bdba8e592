package notify

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/logger"
)

// Sender delivers one notification. The production transport (email,
// webhook) lives outside this module; LogSender is the default.
type Sender interface {
	Send(n *models.Notification) error
}

// LogSender writes notifications to the log instead of delivering them
type LogSender struct{}

func (LogSender) Send(n *models.Notification) error {
	logger.Info("notification", map[string]interface{}{
		"tenant": n.TenantID,
		"kind":   string(n.Kind),
	})
	return nil
}

// Worker drains the notification queue in the background. Failed deliveries
// stay queued with their attempt count and error recorded.
type Worker struct {
	store    repository.NotificationStore
	sender   Sender
	interval time.Duration
	batch    int

	stopChan chan struct{}
}

// NewWorker creates a notification worker
func NewWorker(store repository.NotificationStore, sender Sender, interval time.Duration) *Worker {
	if sender == nil {
		sender = LogSender{}
	}
	return &Worker{
		store:    store,
		sender:   sender,
		interval: interval,
		batch:    50,
		stopChan: make(chan struct{}),
	}
}

// Start runs the delivery loop until Stop is called
func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopChan:
				return
			case <-ticker.C:
				w.DrainOnce()
			}
		}
	}()
}

// Stop halts the delivery loop
func (w *Worker) Stop() {
	close(w.stopChan)
}

// DrainOnce delivers one batch of pending notifications
func (w *Worker) DrainOnce() {
	pending, err := w.store.FindPending(w.batch)
	if err != nil {
		logger.Error("notification queue query failed", err, nil)
		return
	}
	for _, n := range pending {
		n.Attempts++
		if err := w.sender.Send(n); err != nil {
			n.LastError = err.Error()
			logger.Error("notification delivery failed", err, map[string]interface{}{
				"notification": n.ID,
				"attempts":     n.Attempts,
			})
		} else {
			now := time.Now().UTC()
			n.SentAt = &now
			n.LastError = ""
		}
		if err := w.store.Update(n); err != nil {
			logger.Error("failed to update notification row", err, map[string]interface{}{
				"notification": n.ID,
			})
		}
	}
}
