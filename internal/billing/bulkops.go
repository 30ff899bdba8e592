package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// BulkService executes admin operations over many tenants at once. Each
// per-tenant operation is caught individually, so partial success is the
// norm and is reported per item. Grants get an operation id and a short
// window during which they can be compensated.
type BulkService struct {
	cfg     *config.Config
	ledger  *LedgerService
	billing *BotBillingService
	bots    repository.BotStore
	grants  repository.GrantStore

	now func() time.Time
}

// NewBulkService creates a bulk operations service
func NewBulkService(cfg *config.Config, ledger *LedgerService, billing *BotBillingService, bots repository.BotStore, grants repository.GrantStore) *BulkService {
	return &BulkService{
		cfg:     cfg,
		ledger:  ledger,
		billing: billing,
		bots:    bots,
		grants:  grants,
		now:     time.Now,
	}
}

// BulkResult reports per-tenant outcomes of a bulk operation
type BulkResult struct {
	OperationID  string            `json:"operation_id,omitempty"`
	Succeeded    []string          `json:"succeeded"`
	Failed       map[string]string `json:"failed,omitempty"`
	UndoDeadline *time.Time        `json:"undo_deadline,omitempty"`
}

// TenantExport is one row of a bulk export
type TenantExport struct {
	TenantID     string `json:"tenant_id"`
	BalanceCents int64  `json:"balance_cents"`
	ActiveBots   int    `json:"active_bots"`
	Suspended    int    `json:"suspended_bots"`
}

func (s *BulkService) validate(tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return fmt.Errorf("no tenants given")
	}
	if len(tenantIDs) > s.cfg.BulkMaxTenants {
		return fmt.Errorf("bulk operation over %d tenants exceeds the cap of %d", len(tenantIDs), s.cfg.BulkMaxTenants)
	}
	for _, id := range tenantIDs {
		if id == "" {
			return fmt.Errorf("empty tenant id in bulk list")
		}
	}
	return nil
}

// Grant credits every tenant in the list and records an undoable operation
// covering the tenants whose grant succeeded.
func (s *BulkService) Grant(tenantIDs []string, amountCents int64, description string) (*BulkResult, error) {
	if err := s.validate(tenantIDs); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amountCents)
	}

	operationID := uuid.New().String()
	result := &BulkResult{OperationID: operationID, Failed: make(map[string]string)}
	for _, tenantID := range tenantIDs {
		reference := fmt.Sprintf("grant-%s-%s", operationID, tenantID)
		if _, err := s.ledger.Credit(tenantID, amountCents, models.TransactionGrant, description, &reference, "bulk_grant"); err != nil {
			result.Failed[tenantID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, tenantID)
	}

	now := s.now().UTC()
	deadline := now.Add(s.cfg.BulkUndoWindow)
	succeeded, err := json.Marshal(result.Succeeded)
	if err != nil {
		return nil, err
	}
	op := &models.BulkGrantOperation{
		ID:           operationID,
		TenantIDs:    datatypes.JSON(succeeded),
		AmountCents:  amountCents,
		Description:  description,
		UndoDeadline: deadline,
		UndoStatus:   models.UndoNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.grants.Create(op); err != nil {
		return nil, err
	}
	result.UndoDeadline = &deadline

	logger.Info("bulk grant executed", map[string]interface{}{
		"operation": operationID,
		"amount":    amountCents,
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
	})
	return result, nil
}

// UndoGrant compensates a grant within its window: one negative correction
// per succeeded tenant. A partial undo is recorded as such and the operation
// is not re-undoable either way.
func (s *BulkService) UndoGrant(operationID string) (*BulkResult, error) {
	op, err := s.grants.FindByID(operationID)
	if err != nil {
		return nil, err
	}
	if op.UndoStatus != models.UndoNone {
		return nil, fmt.Errorf("operation %s already undone (%s)", operationID, op.UndoStatus)
	}
	now := s.now().UTC()
	if now.After(op.UndoDeadline) {
		return nil, fmt.Errorf("undo window for operation %s expired at %s", operationID, op.UndoDeadline.Format(time.RFC3339))
	}

	var tenantIDs []string
	if err := json.Unmarshal(op.TenantIDs, &tenantIDs); err != nil {
		return nil, err
	}

	result := &BulkResult{OperationID: operationID, Failed: make(map[string]string)}
	for _, tenantID := range tenantIDs {
		reference := fmt.Sprintf("undo-%s-%s", operationID, tenantID)
		if _, err := s.ledger.Debit(tenantID, op.AmountCents, models.TransactionCorrection,
			"undo of grant "+operationID, &reference, "bulk_undo"); err != nil {
			result.Failed[tenantID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, tenantID)
	}

	if len(result.Failed) == 0 {
		op.UndoStatus = models.UndoDone
	} else {
		op.UndoStatus = models.UndoPartial
		if report, err := json.Marshal(result.Failed); err == nil {
			op.UndoReport = datatypes.JSON(report)
		}
	}
	op.UpdatedAt = now
	if err := s.grants.Update(op); err != nil {
		return nil, err
	}

	logger.Info("bulk grant undone", map[string]interface{}{
		"operation": operationID,
		"status":    string(op.UndoStatus),
		"reverted":  len(result.Succeeded),
		"failed":    len(result.Failed),
	})
	return result, nil
}

// Suspend suspends every listed tenant's workloads, per-tenant caught
func (s *BulkService) Suspend(tenantIDs []string, reason string) (*BulkResult, error) {
	if err := s.validate(tenantIDs); err != nil {
		return nil, err
	}
	result := &BulkResult{Failed: make(map[string]string)}
	for _, tenantID := range tenantIDs {
		if err := s.billing.SuspendTenant(tenantID, reason); err != nil {
			result.Failed[tenantID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, tenantID)
	}
	return result, nil
}

// Reactivate reactivates every listed tenant's workloads, per-tenant caught
func (s *BulkService) Reactivate(tenantIDs []string) (*BulkResult, error) {
	if err := s.validate(tenantIDs); err != nil {
		return nil, err
	}
	result := &BulkResult{Failed: make(map[string]string)}
	for _, tenantID := range tenantIDs {
		if err := s.billing.ReactivateTenant(tenantID); err != nil {
			result.Failed[tenantID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, tenantID)
	}
	return result, nil
}

// Export snapshots balance and workload counts for every listed tenant
func (s *BulkService) Export(tenantIDs []string) ([]TenantExport, error) {
	if err := s.validate(tenantIDs); err != nil {
		return nil, err
	}
	rows := make([]TenantExport, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		balance, err := s.ledger.Balance(tenantID)
		if err != nil {
			return nil, err
		}
		bots, err := s.bots.FindByTenant(tenantID)
		if err != nil {
			return nil, err
		}
		row := TenantExport{TenantID: tenantID, BalanceCents: balance}
		for _, bot := range bots {
			switch bot.BillingState {
			case models.BillingActive:
				row.ActiveBots++
			case models.BillingSuspended:
				row.Suspended++
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
