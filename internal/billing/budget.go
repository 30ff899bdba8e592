package billing

import (
	"fmt"
	"sync"
	"time"

	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
)

// ErrBudgetExceeded rejects admission when a tenant is past a spend cap.
// HTTP surfaces map it to 429.
var ErrBudgetExceeded = fmt.Errorf("budget exceeded")

type budgetEntry struct {
	hourlyNano  int64
	monthlyNano int64
	fetchedAt   time.Time
}

// BudgetChecker caches per-tenant rolling spend for admission control. The
// cache TTL is short (about a second) so checks stay cheap under load while
// caps remain approximately current; updates invalidate explicitly.
type BudgetChecker struct {
	cfg       *config.Config
	meters    repository.MeterStore
	customers repository.CustomerStore

	mu    sync.Mutex
	cache map[string]budgetEntry

	now func() time.Time
}

// NewBudgetChecker creates a budget checker
func NewBudgetChecker(cfg *config.Config, meters repository.MeterStore, customers repository.CustomerStore) *BudgetChecker {
	return &BudgetChecker{
		cfg:       cfg,
		meters:    meters,
		customers: customers,
		cache:     make(map[string]budgetEntry),
		now:       time.Now,
	}
}

// Check compares the tenant's rolling hourly and monthly spend against its
// caps. Nil caps mean unlimited. Returns ErrBudgetExceeded when over.
func (c *BudgetChecker) Check(tenantID string) error {
	customer, err := c.customers.Find(tenantID)
	if err != nil {
		return err
	}
	if customer == nil || (customer.HourlyCapCents == nil && customer.MonthlyCapCents == nil) {
		return nil
	}

	entry, err := c.spend(tenantID)
	if err != nil {
		return err
	}

	if customer.HourlyCapCents != nil && FromNano(entry.hourlyNano).Cents() >= *customer.HourlyCapCents {
		return fmt.Errorf("%w: hourly cap %d cents reached for tenant %s", ErrBudgetExceeded, *customer.HourlyCapCents, tenantID)
	}
	if customer.MonthlyCapCents != nil && FromNano(entry.monthlyNano).Cents() >= *customer.MonthlyCapCents {
		return fmt.Errorf("%w: monthly cap %d cents reached for tenant %s", ErrBudgetExceeded, *customer.MonthlyCapCents, tenantID)
	}
	return nil
}

func (c *BudgetChecker) spend(tenantID string) (budgetEntry, error) {
	now := c.now().UTC()

	c.mu.Lock()
	entry, ok := c.cache[tenantID]
	c.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < c.cfg.BudgetCacheTTL {
		return entry, nil
	}

	hourly, err := c.meters.SpendSince(tenantID, now.Add(-time.Hour))
	if err != nil {
		return budgetEntry{}, err
	}
	monthly, err := c.meters.SpendSince(tenantID, now.AddDate(0, -1, 0))
	if err != nil {
		return budgetEntry{}, err
	}

	entry = budgetEntry{hourlyNano: hourly, monthlyNano: monthly, fetchedAt: now}
	c.mu.Lock()
	c.cache[tenantID] = entry
	c.mu.Unlock()
	return entry, nil
}

// Invalidate drops a tenant's cached spend, forcing the next Check to
// recompute. Called after each consumed meter event.
func (c *BudgetChecker) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.cache, tenantID)
	c.mu.Unlock()
}

// SetCaps upserts the per-tenant spend caps
func (c *BudgetChecker) SetCaps(tenantID string, hourlyCents, monthlyCents *int64) error {
	customer, err := c.customers.Find(tenantID)
	if err != nil {
		return err
	}
	if customer == nil {
		customer = &models.TenantCustomer{TenantID: tenantID, CreatedAt: time.Now().UTC()}
	}
	customer.HourlyCapCents = hourlyCents
	customer.MonthlyCapCents = monthlyCents
	customer.UpdatedAt = time.Now().UTC()
	if err := c.customers.Save(customer); err != nil {
		return err
	}
	c.Invalidate(tenantID)
	return nil
}
