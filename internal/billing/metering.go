package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"gorm.io/datatypes"

	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// MeterInput is one usage event from the gateway, in nanodollars
type MeterInput struct {
	TenantID   string
	CostNano   int64
	ChargeNano int64
	Capability string
	Provider   string
	Metadata   map[string]interface{}
	Timestamp  time.Time
}

// MeteringService consumes meter events: it persists the raw event, mirrors
// it to the time-series sink when configured, folds it into the hourly
// aggregate, and debits the ledger. Sub-cent charge remainders are carried
// per tenant so metering never loses fractions to rounding.
type MeteringService struct {
	cfg    *config.Config
	meters repository.MeterStore
	ledger *LedgerService
	budget *BudgetChecker

	influx api.WriteAPIBlocking

	mu    sync.Mutex
	carry map[string]Credit // sub-cent remainder per tenant
}

// NewMeteringService creates a metering service. The InfluxDB sink is
// attached only when a URL is configured.
func NewMeteringService(cfg *config.Config, meters repository.MeterStore, ledger *LedgerService, budget *BudgetChecker) *MeteringService {
	s := &MeteringService{
		cfg:    cfg,
		meters: meters,
		ledger: ledger,
		budget: budget,
		carry:  make(map[string]Credit),
	}
	if cfg.InfluxDBURL != "" {
		client := influxdb2.NewClient(cfg.InfluxDBURL, cfg.InfluxDBToken)
		s.influx = client.WriteAPIBlocking(cfg.InfluxDBOrg, cfg.InfluxDBBucket)
		logger.Info("metering sink attached", map[string]interface{}{
			"url":    cfg.InfluxDBURL,
			"bucket": cfg.InfluxDBBucket,
		})
	}
	return s
}

// Consume processes one meter event end to end
func (s *MeteringService) Consume(ctx context.Context, input MeterInput) error {
	if input.TenantID == "" {
		return fmt.Errorf("meter event without tenant")
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now().UTC()
	}

	event := &models.MeterEvent{
		ID:         uuid.New().String(),
		TenantID:   input.TenantID,
		CostNano:   input.CostNano,
		ChargeNano: input.ChargeNano,
		Capability: input.Capability,
		Provider:   input.Provider,
		Timestamp:  input.Timestamp,
	}
	if input.Metadata != nil {
		if data, err := json.Marshal(input.Metadata); err == nil {
			event.Metadata = datatypes.JSON(data)
		}
	}
	if err := s.meters.CreateEvent(event); err != nil {
		return err
	}

	s.writePoint(ctx, event)

	hourStart := input.Timestamp.UTC().Truncate(time.Hour)
	if err := s.meters.UpsertSummary(input.TenantID, hourStart, input.CostNano, input.ChargeNano); err != nil {
		logger.Error("failed to fold meter event into hourly aggregate", err, map[string]interface{}{
			"tenant": input.TenantID,
		})
	}

	if err := s.debit(event); err != nil {
		return err
	}
	if s.budget != nil {
		s.budget.Invalidate(input.TenantID)
	}
	return nil
}

// debit converts the retail charge to cents, carrying the sub-cent remainder
// until it accumulates to a whole cent. The event id is the idempotency key,
// so a replayed event never double-charges.
func (s *MeteringService) debit(event *models.MeterEvent) error {
	s.mu.Lock()
	total := s.carry[event.TenantID] + FromNano(event.ChargeNano)
	cents := total.Cents()
	s.carry[event.TenantID] = total.Remainder()
	s.mu.Unlock()

	if cents <= 0 {
		return nil
	}

	reference := "meter-" + event.ID
	_, err := s.ledger.Debit(event.TenantID, cents, models.TransactionUsage,
		fmt.Sprintf("usage: %s via %s", event.Capability, event.Provider), &reference, "metering")
	return err
}

func (s *MeteringService) writePoint(ctx context.Context, event *models.MeterEvent) {
	if s.influx == nil {
		return
	}
	point := influxdb2.NewPoint("meter_event",
		map[string]string{
			"tenant":     event.TenantID,
			"capability": event.Capability,
			"provider":   event.Provider,
		},
		map[string]interface{}{
			"cost_nano":   event.CostNano,
			"charge_nano": event.ChargeNano,
		},
		event.Timestamp,
	)
	if err := s.influx.WritePoint(ctx, point); err != nil {
		logger.Error("time-series write failed", err, map[string]interface{}{
			"tenant": event.TenantID,
		})
	}
}
