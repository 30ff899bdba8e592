package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// In-process store variants. They honor the same contracts as the gorm
// implementations and back the test suite; nothing here touches a database.

// MemoryNodeStore is an in-process NodeStore
type MemoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*models.Node
}

// NewMemoryNodeStore creates an empty in-process node store
func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{nodes: make(map[string]*models.Node)}
}

func (s *MemoryNodeStore) Create(node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	cp := *node
	s.nodes[node.ID] = &cp
	return nil
}

func (s *MemoryNodeStore) Update(node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *node
	cp.UpdatedAt = time.Now()
	s.nodes[node.ID] = &cp
	return nil
}

func (s *MemoryNodeStore) FindByID(id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *node
	return &cp, nil
}

func (s *MemoryNodeStore) FindAll() ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		cp := *n
		nodes = append(nodes, &cp)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *MemoryNodeStore) FindByStatus(statuses ...models.NodeStatus) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var nodes []*models.Node
	for _, n := range s.nodes {
		for _, st := range statuses {
			if n.Status == st {
				cp := *n
				nodes = append(nodes, &cp)
				break
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *MemoryNodeStore) UpdateStatus(id string, status models.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	node.Status = status
	node.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryNodeStore) UpdateHeartbeat(id string, usedMB int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	node.UsedMB = usedMB
	node.LastHeartbeatAt = time.Now()
	node.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryNodeStore) AddUsed(id string, deltaMB int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	node.UsedMB += deltaMB
	node.UpdatedAt = time.Now()
	return nil
}

// MemoryBotStore is an in-process BotStore
type MemoryBotStore struct {
	mu   sync.RWMutex
	bots map[string]*models.BotInstance
}

// NewMemoryBotStore creates an empty in-process bot store
func NewMemoryBotStore() *MemoryBotStore {
	return &MemoryBotStore{bots: make(map[string]*models.BotInstance)}
}

func (s *MemoryBotStore) Create(bot *models.BotInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bots[bot.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	for _, b := range s.bots {
		if b.TenantID == bot.TenantID && b.Name == bot.Name {
			return gorm.ErrDuplicatedKey
		}
	}
	cp := *bot
	s.bots[bot.ID] = &cp
	return nil
}

func (s *MemoryBotStore) Update(bot *models.BotInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *bot
	cp.UpdatedAt = time.Now()
	s.bots[bot.ID] = &cp
	return nil
}

func (s *MemoryBotStore) FindByID(id string) (*models.BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot, ok := s.bots[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *bot
	return &cp, nil
}

func (s *MemoryBotStore) FindByTenant(tenantID string) ([]*models.BotInstance, error) {
	return s.filter(func(b *models.BotInstance) bool { return b.TenantID == tenantID })
}

func (s *MemoryBotStore) FindByNode(nodeID string) ([]*models.BotInstance, error) {
	return s.filter(func(b *models.BotInstance) bool {
		return b.NodeID != nil && *b.NodeID == nodeID
	})
}

func (s *MemoryBotStore) FindByTenantAndState(tenantID string, state models.BillingState) ([]*models.BotInstance, error) {
	return s.filter(func(b *models.BotInstance) bool {
		return b.TenantID == tenantID && b.BillingState == state
	})
}

func (s *MemoryBotStore) FindDestroyable(now time.Time) ([]*models.BotInstance, error) {
	return s.filter(func(b *models.BotInstance) bool {
		return b.BillingState == models.BillingSuspended &&
			b.DestroyAfter != nil && b.DestroyAfter.Before(now)
	})
}

func (s *MemoryBotStore) AssignNode(botID string, nodeID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[botID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	bot.NodeID = nodeID
	bot.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryBotStore) filter(keep func(*models.BotInstance) bool) ([]*models.BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bots []*models.BotInstance
	for _, b := range s.bots {
		if keep(b) {
			cp := *b
			bots = append(bots, &cp)
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].ID < bots[j].ID })
	return bots, nil
}

// MemoryLedgerStore is an in-process LedgerStore
type MemoryLedgerStore struct {
	mu       sync.Mutex
	txs      []*models.CreditTransaction
	byRef    map[string]*models.CreditTransaction
	balances map[string]int64
}

// NewMemoryLedgerStore creates an empty in-process ledger
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		byRef:    make(map[string]*models.CreditTransaction),
		balances: make(map[string]int64),
	}
}

func (s *MemoryLedgerStore) Append(tx *models.CreditTransaction) (*models.CreditTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ReferenceID != nil {
		if existing, ok := s.byRef[*tx.ReferenceID]; ok {
			cp := *existing
			return &cp, false, nil
		}
	}

	s.balances[tx.TenantID] += tx.AmountCents
	cp := *tx
	cp.BalanceAfterCents = s.balances[tx.TenantID]
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.txs = append(s.txs, &cp)
	if cp.ReferenceID != nil {
		s.byRef[*cp.ReferenceID] = &cp
	}

	out := cp
	*tx = cp
	return &out, true, nil
}

func (s *MemoryLedgerStore) Balance(tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tenantID], nil
}

func (s *MemoryLedgerStore) TransactionsByTenant(tenantID string, limit int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []*models.CreditTransaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].TenantID == tenantID {
			cp := *s.txs[i]
			txs = append(txs, &cp)
			if limit > 0 && len(txs) >= limit {
				break
			}
		}
	}
	return txs, nil
}

// MemoryRecoveryStore is an in-process RecoveryStore
type MemoryRecoveryStore struct {
	mu     sync.RWMutex
	events map[string]*models.RecoveryEvent
	items  map[string]*models.RecoveryItem
}

// NewMemoryRecoveryStore creates an empty in-process recovery store
func NewMemoryRecoveryStore() *MemoryRecoveryStore {
	return &MemoryRecoveryStore{
		events: make(map[string]*models.RecoveryEvent),
		items:  make(map[string]*models.RecoveryItem),
	}
}

func (s *MemoryRecoveryStore) CreateEvent(event *models.RecoveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *MemoryRecoveryStore) UpdateEvent(event *models.RecoveryEvent) error {
	return s.CreateEvent(event)
}

func (s *MemoryRecoveryStore) FindEvent(id string) (*models.RecoveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *MemoryRecoveryStore) FindInProgressByNode(nodeID string) (*models.RecoveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.NodeID == nodeID && e.Status == models.RecoveryInProgress {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryRecoveryStore) FindEventsByStatus(status models.RecoveryStatus) ([]*models.RecoveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []*models.RecoveryEvent
	for _, e := range s.events {
		if e.Status == status {
			cp := *e
			events = append(events, &cp)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartedAt.Before(events[j].StartedAt) })
	return events, nil
}

func (s *MemoryRecoveryStore) CreateItem(item *models.RecoveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryRecoveryStore) UpdateItem(item *models.RecoveryItem) error {
	return s.CreateItem(item)
}

func (s *MemoryRecoveryStore) FindItems(eventID string) ([]*models.RecoveryItem, error) {
	return s.filterItems(func(i *models.RecoveryItem) bool { return i.RecoveryEventID == eventID })
}

func (s *MemoryRecoveryStore) FindWaitingItems(eventID string) ([]*models.RecoveryItem, error) {
	return s.filterItems(func(i *models.RecoveryItem) bool {
		return i.RecoveryEventID == eventID && i.Status == models.ItemWaiting
	})
}

func (s *MemoryRecoveryStore) filterItems(keep func(*models.RecoveryItem) bool) ([]*models.RecoveryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*models.RecoveryItem
	for _, i := range s.items {
		if keep(i) {
			cp := *i
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].ID < items[b].ID })
	return items, nil
}

// MemorySnapshotStore is an in-process SnapshotStore
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*models.Snapshot
}

// NewMemorySnapshotStore creates an empty in-process snapshot store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*models.Snapshot)}
}

func (s *MemorySnapshotStore) Create(snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snaps[snap.ID] = &cp
	return nil
}

func (s *MemorySnapshotStore) Update(snap *models.Snapshot) error {
	return s.Create(snap)
}

func (s *MemorySnapshotStore) FindByID(id string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *MemorySnapshotStore) FindByTenant(tenantID string) ([]*models.Snapshot, error) {
	return s.filter(func(sn *models.Snapshot) bool {
		return sn.TenantID == tenantID && sn.DeletedAt == nil
	})
}

func (s *MemorySnapshotStore) FindExpired(now time.Time) ([]*models.Snapshot, error) {
	return s.filter(func(sn *models.Snapshot) bool {
		return sn.DeletedAt == nil && sn.ExpiresAt != nil && sn.ExpiresAt.Before(now)
	})
}

func (s *MemorySnapshotStore) FindPurgeable(cutoff time.Time) ([]*models.Snapshot, error) {
	return s.filter(func(sn *models.Snapshot) bool {
		return sn.DeletedAt != nil && sn.DeletedAt.Before(cutoff)
	})
}

func (s *MemorySnapshotStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

func (s *MemorySnapshotStore) filter(keep func(*models.Snapshot) bool) ([]*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snaps []*models.Snapshot
	for _, sn := range s.snaps {
		if keep(sn) {
			cp := *sn
			snaps = append(snaps, &cp)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// MemoryTopupStore is an in-process TopupStore
type MemoryTopupStore struct {
	mu      sync.RWMutex
	configs map[string]*models.AutoTopupConfig
}

// NewMemoryTopupStore creates an empty in-process topup store
func NewMemoryTopupStore() *MemoryTopupStore {
	return &MemoryTopupStore{configs: make(map[string]*models.AutoTopupConfig)}
}

func (s *MemoryTopupStore) Find(tenantID string) (*models.AutoTopupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryTopupStore) Save(cfg *models.AutoTopupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.UpdatedAt = time.Now()
	s.configs[cfg.TenantID] = &cp
	return nil
}

// MemoryCustomerStore is an in-process CustomerStore
type MemoryCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*models.TenantCustomer
}

// NewMemoryCustomerStore creates an empty in-process customer store
func NewMemoryCustomerStore() *MemoryCustomerStore {
	return &MemoryCustomerStore{customers: make(map[string]*models.TenantCustomer)}
}

func (s *MemoryCustomerStore) Find(tenantID string) (*models.TenantCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *customer
	return &cp, nil
}

func (s *MemoryCustomerStore) Save(customer *models.TenantCustomer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *customer
	cp.UpdatedAt = time.Now()
	s.customers[customer.TenantID] = &cp
	return nil
}

// MemoryGrantStore is an in-process GrantStore
type MemoryGrantStore struct {
	mu  sync.RWMutex
	ops map[string]*models.BulkGrantOperation
}

// NewMemoryGrantStore creates an empty in-process grant store
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{ops: make(map[string]*models.BulkGrantOperation)}
}

func (s *MemoryGrantStore) Create(op *models.BulkGrantOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

func (s *MemoryGrantStore) Update(op *models.BulkGrantOperation) error {
	return s.Create(op)
}

func (s *MemoryGrantStore) FindByID(id string) (*models.BulkGrantOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *op
	return &cp, nil
}

// MemoryMeterStore is an in-process MeterStore
type MemoryMeterStore struct {
	mu        sync.Mutex
	events    []*models.MeterEvent
	summaries map[string]*models.UsageSummary // tenant|hour
}

// NewMemoryMeterStore creates an empty in-process meter store
func NewMemoryMeterStore() *MemoryMeterStore {
	return &MemoryMeterStore{summaries: make(map[string]*models.UsageSummary)}
}

func (s *MemoryMeterStore) CreateEvent(event *models.MeterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryMeterStore) UpsertSummary(tenantID string, hourStart time.Time, costNano, chargeNano int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%d", tenantID, hourStart.Unix())
	summary, ok := s.summaries[key]
	if !ok {
		summary = &models.UsageSummary{
			TenantID:   tenantID,
			HourStart:  hourStart,
			Aggregated: true,
		}
		s.summaries[key] = summary
	}
	summary.EventCount++
	summary.CostNano += costNano
	summary.ChargeNano += chargeNano
	summary.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryMeterStore) SpendSince(tenantID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge := since.Truncate(time.Hour).Add(time.Hour)

	var total int64
	for _, summary := range s.summaries {
		if summary.TenantID == tenantID && !summary.HourStart.Before(edge) {
			total += summary.ChargeNano
		}
	}
	for _, event := range s.events {
		if event.TenantID == tenantID && !event.Timestamp.Before(since) && event.Timestamp.Before(edge) {
			total += event.ChargeNano
		}
	}
	return total, nil
}

// MemoryNotificationStore is an in-process NotificationStore
type MemoryNotificationStore struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

// NewMemoryNotificationStore creates an empty in-process notification store
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{}
}

func (s *MemoryNotificationStore) Enqueue(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *MemoryNotificationStore) Update(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.notifications {
		if existing.ID == n.ID {
			cp := *n
			s.notifications[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *MemoryNotificationStore) FindPending(limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Notification
	for _, n := range s.notifications {
		if n.SentAt == nil {
			cp := *n
			pending = append(pending, &cp)
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}
