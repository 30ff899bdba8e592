package billing

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// PaymentProcessor charges a tenant through the external payment provider
// and returns a reference id suitable as a ledger idempotency key.
type PaymentProcessor interface {
	Charge(tenantID string, amountCents int64) (referenceID string, err error)
}

// AutoTopupService tops a tenant up when a debit drops the balance below the
// configured threshold. At most one charge per tenant is in flight; repeated
// failures disable the configuration and notify the tenant.
type AutoTopupService struct {
	cfg           *config.Config
	store         repository.TopupStore
	ledger        *LedgerService
	processor     PaymentProcessor
	notifications repository.NotificationStore
	bus           *events.Bus

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewAutoTopupService creates an auto-topup service
func NewAutoTopupService(cfg *config.Config, store repository.TopupStore, ledger *LedgerService, processor PaymentProcessor, notifications repository.NotificationStore, bus *events.Bus) *AutoTopupService {
	return &AutoTopupService{
		cfg:           cfg,
		store:         store,
		ledger:        ledger,
		processor:     processor,
		notifications: notifications,
		bus:           bus,
		inFlight:      make(map[string]bool),
	}
}

// Configure upserts a tenant's auto-topup settings. Enabling resets the
// failure counter.
func (s *AutoTopupService) Configure(tenantID string, enabled bool, thresholdCents, amountCents int64) error {
	cfg := &models.AutoTopupConfig{
		TenantID:       tenantID,
		Enabled:        enabled,
		ThresholdCents: thresholdCents,
		AmountCents:    amountCents,
		UpdatedAt:      time.Now().UTC(),
	}
	return s.store.Save(cfg)
}

// MaybeTopup runs the threshold check for a tenant given its balance after a
// debit. The charge, when due, runs synchronously; callers on a hot path
// should invoke it from a goroutine.
func (s *AutoTopupService) MaybeTopup(tenantID string, balanceCents int64) {
	if s.processor == nil {
		return
	}
	cfg, err := s.store.Find(tenantID)
	if err != nil || cfg == nil || !cfg.Enabled {
		return
	}
	if balanceCents >= cfg.ThresholdCents {
		return
	}

	s.mu.Lock()
	if s.inFlight[tenantID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[tenantID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, tenantID)
		s.mu.Unlock()
	}()

	referenceID, err := s.processor.Charge(tenantID, cfg.AmountCents)
	if err != nil {
		s.recordFailure(cfg, err)
		return
	}

	if _, err := s.ledger.Credit(tenantID, cfg.AmountCents, models.TransactionPurchase, "auto top-up", &referenceID, "auto_topup"); err != nil {
		logger.Error("auto top-up charged but ledger credit failed", err, map[string]interface{}{
			"tenant":    tenantID,
			"reference": referenceID,
		})
		return
	}

	if cfg.ConsecutiveFailures != 0 {
		cfg.ConsecutiveFailures = 0
		cfg.UpdatedAt = time.Now().UTC()
		if err := s.store.Save(cfg); err != nil {
			logger.Error("failed to reset auto-topup failures", err, map[string]interface{}{
				"tenant": tenantID,
			})
		}
	}
	logger.Info("auto top-up applied", map[string]interface{}{
		"tenant": tenantID,
		"amount": cfg.AmountCents,
	})
}

func (s *AutoTopupService) recordFailure(cfg *models.AutoTopupConfig, cause error) {
	cfg.ConsecutiveFailures++
	disabled := false
	if cfg.ConsecutiveFailures >= s.cfg.AutoTopupMaxFailures {
		cfg.Enabled = false
		disabled = true
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(cfg); err != nil {
		logger.Error("failed to record auto-topup failure", err, map[string]interface{}{
			"tenant": cfg.TenantID,
		})
		return
	}

	logger.Error("auto top-up charge failed", cause, map[string]interface{}{
		"tenant":   cfg.TenantID,
		"failures": cfg.ConsecutiveFailures,
		"disabled": disabled,
	})
	if !disabled {
		return
	}

	s.bus.Publish(events.AutoTopupDisabled, map[string]interface{}{
		"tenant_id": cfg.TenantID,
		"failures":  cfg.ConsecutiveFailures,
	})
	if s.notifications != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"failures": cfg.ConsecutiveFailures,
			"error":    cause.Error(),
		})
		if err != nil {
			return
		}
		n := &models.Notification{
			ID:        uuid.New().String(),
			TenantID:  cfg.TenantID,
			Kind:      models.NotifyAutoTopupDisabled,
			Payload:   datatypes.JSON(payload),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.notifications.Enqueue(n); err != nil {
			logger.Error("failed to enqueue auto-topup notification", err, map[string]interface{}{
				"tenant": cfg.TenantID,
			})
		}
	}
}
