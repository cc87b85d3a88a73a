package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store"
	"lapakku/backend/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	sales        map[string]domain.Sale
	expenses     map[string]domain.Expense
	items        map[string]domain.InventoryItem
	customers    map[string]domain.Customer
	debts        map[string]domain.DebtRecord
	profile      *domain.Profile
	changes      []domain.ChangeEntry
	changeByID   map[string]int
	deviceID     string
	lastSyncedAt *time.Time
	users        map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		sales:      make(map[string]domain.Sale),
		expenses:   make(map[string]domain.Expense),
		items:      make(map[string]domain.InventoryItem),
		customers:  make(map[string]domain.Customer),
		debts:      make(map[string]domain.DebtRecord),
		changes:    make([]domain.ChangeEntry, 0, 64),
		changeByID: make(map[string]int),
		users:      make(map[string]domain.UserAccount),
	}
}

// NewSeeded builds a store with demo inventory and the owner account for
// dev mode. The owner password comes from SEED_OWNER_PASSWORD; a hardcoded
// dev default is used with a warning when unset.
func NewSeeded() *Store {
	s := New()

	ownerPwd := os.Getenv("SEED_OWNER_PASSWORD")
	if ownerPwd == "" {
		ownerPwd = "owner123"
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(ownerPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	now := time.Now().UTC()
	s.users["owner"] = domain.UserAccount{
		Username:  "owner",
		Role:      "owner",
		Password:  string(hash),
		Active:    true,
		CreatedAt: now,
	}

	seed := []domain.InventoryItem{
		{Name: "Soap", Category: "household", CostCents: 30000, PriceCents: 50000, Quantity: 40, LowStockAlert: 10},
		{Name: "Sugar 1kg", Category: "grocery", CostCents: 320000, PriceCents: 400000, Quantity: 25, LowStockAlert: 5},
		{Name: "Cooking Oil 1L", Category: "grocery", CostCents: 700000, PriceCents: 850000, Quantity: 18, LowStockAlert: 5},
		{Name: "Airtime Card", Category: "services", CostCents: 95000, PriceCents: 100000, Quantity: 60, LowStockAlert: 20},
		{Name: "Bread", Category: "bakery", CostCents: 280000, PriceCents: 350000, Quantity: 12, LowStockAlert: 4},
	}
	for _, item := range seed {
		item.ID = xid.New("itm")
		item.Synced = true
		item.Version = 1
		item.UpdatedAt = now
		s.items[item.ID] = item
	}

	return s
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.sales[sale.ID]; exists {
		return store.ErrDuplicateID
	}
	s.sales[sale.ID] = sale
	return nil
}

func (s *Store) PutSale(_ context.Context, sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		return store.ErrInvalidRecord
	}
	if existing, exists := s.sales[sale.ID]; exists && existing.Version > sale.Version {
		return store.ErrVersionConflict
	}
	s.sales[sale.ID] = sale
	return nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sales, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		expenses = append(expenses, expense)
	}
	return expenses, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, exists := s.expenses[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.expenses[expense.ID]; exists {
		return store.ErrDuplicateID
	}
	s.expenses[expense.ID] = expense
	return nil
}

func (s *Store) PutExpense(_ context.Context, expense domain.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		return store.ErrInvalidRecord
	}
	if existing, exists := s.expenses[expense.ID]; exists && existing.Version > expense.Version {
		return store.ErrVersionConflict
	}
	s.expenses[expense.ID] = expense
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expenses, id)
	return nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.items[item.ID]; exists {
		return store.ErrDuplicateID
	}
	s.items[item.ID] = item
	return nil
}

func (s *Store) PutItem(_ context.Context, item domain.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		return store.ErrInvalidRecord
	}
	if existing, exists := s.items[item.ID]; exists && existing.Version > item.Version {
		return store.ErrVersionConflict
	}
	s.items[item.ID] = item
	return nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.customers[customer.ID]; exists {
		return store.ErrDuplicateID
	}
	s.customers[customer.ID] = customer
	return nil
}

func (s *Store) PutCustomer(_ context.Context, customer domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		return store.ErrInvalidRecord
	}
	if existing, exists := s.customers[customer.ID]; exists && existing.Version > customer.Version {
		return store.ErrVersionConflict
	}
	s.customers[customer.ID] = customer
	return nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.customers, id)
	return nil
}

func (s *Store) ListDebts(_ context.Context) ([]domain.DebtRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debts := make([]domain.DebtRecord, 0, len(s.debts))
	for _, debt := range s.debts {
		debts = append(debts, debt)
	}
	return debts, nil
}

func (s *Store) ListDebtsByCustomer(_ context.Context, customerID string) ([]domain.DebtRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debts := make([]domain.DebtRecord, 0, 8)
	for _, debt := range s.debts {
		if debt.CustomerID == customerID {
			debts = append(debts, debt)
		}
	}
	return debts, nil
}

func (s *Store) GetDebt(_ context.Context, id string) (*domain.DebtRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debt, exists := s.debts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyDebt := debt
	return &copyDebt, nil
}

func (s *Store) CreateDebt(_ context.Context, debt domain.DebtRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if debt.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.debts[debt.ID]; exists {
		return store.ErrDuplicateID
	}
	s.debts[debt.ID] = debt
	return nil
}

func (s *Store) PutDebt(_ context.Context, debt domain.DebtRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if debt.ID == "" {
		return store.ErrInvalidRecord
	}
	if existing, exists := s.debts[debt.ID]; exists && existing.Version > debt.Version {
		return store.ErrVersionConflict
	}
	s.debts[debt.ID] = debt
	return nil
}

func (s *Store) DeleteDebt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.debts, id)
	return nil
}

func (s *Store) GetProfile(_ context.Context) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return nil, store.ErrNotFound
	}
	copyProfile := *s.profile
	return &copyProfile, nil
}

func (s *Store) PutProfile(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = &profile
	return nil
}

func (s *Store) AppendChange(_ context.Context, entry domain.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.changeByID[entry.ID]; exists {
		return store.ErrDuplicateID
	}
	s.changeByID[entry.ID] = len(s.changes)
	s.changes = append(s.changes, entry)
	return nil
}

func (s *Store) ListPendingChanges(_ context.Context, limit int) ([]domain.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.ChangeEntry, 0, limit)
	for _, entry := range s.changes {
		if entry.AckedAt != nil {
			continue
		}
		pending = append(pending, entry)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) AckChange(_ context.Context, changeID string, ackedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.changeByID[changeID]
	if !exists {
		return store.ErrNotFound
	}
	at := ackedAt
	s.changes[idx].AckedAt = &at
	return nil
}

func (s *Store) BumpChangeAttempt(_ context.Context, changeID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.changeByID[changeID]
	if !exists {
		return store.ErrNotFound
	}
	s.changes[idx].Attempts++
	s.changes[idx].LastError = reason
	return nil
}

func (s *Store) PurgeAckedChanges(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]domain.ChangeEntry, 0, len(s.changes))
	purged := 0
	for _, entry := range s.changes {
		if entry.AckedAt != nil && entry.AckedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	s.changes = kept
	s.changeByID = make(map[string]int, len(kept))
	for i, entry := range kept {
		s.changeByID[entry.ID] = i
	}
	return purged, nil
}

func (s *Store) GetDeviceID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.deviceID == "" {
		return "", store.ErrNotFound
	}
	return s.deviceID, nil
}

func (s *Store) SetDeviceID(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deviceID = deviceID
	return nil
}

func (s *Store) GetLastSyncedAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastSyncedAt == nil {
		return nil, nil
	}
	at := *s.lastSyncedAt
	return &at, nil
}

func (s *Store) SetLastSyncedAt(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSyncedAt = &at
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicateID
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}
