// Package ledger is the single authoritative view over all collections.
// Every mutation flows through it: records are created dirty, queued on the
// change log, and the in-memory snapshot is reloaded wholesale afterwards
// so dependent readers always see consistent state.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store"
	"lapakku/backend/internal/xid"
)

type Ledger struct {
	repo store.Repository
	log  *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot is the in-memory copy of all live (non-tombstoned) records,
// refreshed after every mutation. Pending counts include tombstoned
// records still waiting for a delete ack.
type Snapshot struct {
	Sales        []domain.Sale
	Expenses     []domain.Expense
	Inventory    []domain.InventoryItem
	Customers    []domain.Customer
	Debts        []domain.DebtRecord
	PendingBy    map[string]int
	PendingTotal int
	LoadedAt     time.Time
}

func New(repo store.Repository, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{repo: repo, log: log}
}

// Init ensures the singleton profile exists and loads the first snapshot.
func (l *Ledger) Init(ctx context.Context) error {
	if _, err := l.Profile(ctx); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

func touch(m *domain.SyncMeta) {
	m.Synced = false
	m.Version++
	m.UpdatedAt = time.Now().UTC()
}

func (l *Ledger) logChange(ctx context.Context, collection, op, recordID string, version int64, payload any) error {
	entry := domain.ChangeEntry{
		ID:         xid.New("chg"),
		Collection: collection,
		Op:         op,
		RecordID:   recordID,
		Version:    version,
		QueuedAt:   time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode change payload: %w", err)
		}
		entry.Payload = raw
	}
	return l.repo.AppendChange(ctx, entry)
}

func defaultDate(date *time.Time) time.Time {
	if date != nil {
		return date.UTC()
	}
	return time.Now().UTC()
}

func isSupportedPaymentType(paymentType string) bool {
	switch paymentType {
	case domain.PaymentCash, domain.PaymentMobileMoney, domain.PaymentCredit:
		return true
	}
	return false
}

func (l *Ledger) AddSale(ctx context.Context, input domain.SaleInput) (domain.Sale, error) {
	input.ItemName = strings.TrimSpace(input.ItemName)
	if input.PaymentType == "" {
		input.PaymentType = domain.PaymentCash
	}
	if input.ItemName == "" || input.Quantity < 1 || input.PriceCents < 0 {
		return domain.Sale{}, store.ErrInvalidRecord
	}
	if !isSupportedPaymentType(input.PaymentType) {
		return domain.Sale{}, store.ErrInvalidRecord
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		SyncMeta: domain.SyncMeta{
			ID:        xid.New("sal"),
			Synced:    false,
			Version:   1,
			UpdatedAt: now,
		},
		ItemName:     input.ItemName,
		Quantity:     input.Quantity,
		PriceCents:   input.PriceCents,
		TotalCents:   int64(input.Quantity) * input.PriceCents,
		PaymentType:  input.PaymentType,
		CustomerName: strings.TrimSpace(input.CustomerName),
		CustomerNote: strings.TrimSpace(input.CustomerNote),
		Date:         defaultDate(input.Date),
	}

	if err := l.repo.CreateSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}
	if err := l.logChange(ctx, domain.CollectionSales, domain.OpCreate, sale.ID, sale.Version, sale); err != nil {
		return domain.Sale{}, err
	}

	// Stock side effect. An insufficient or missing item never blocks the
	// sale; hard stock checks belong to the UI form.
	if err := l.decrementStock(ctx, sale.ItemName, sale.Quantity); err != nil {
		l.log.Warn("stock decrement failed after sale",
			zap.String("sale_id", sale.ID),
			zap.String("item_name", sale.ItemName),
			zap.Error(err))
	}

	if err := l.Refresh(ctx); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (l *Ledger) decrementStock(ctx context.Context, itemName string, quantity int) error {
	items, err := l.repo.ListItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Deleted() || !strings.EqualFold(item.Name, itemName) {
			continue
		}
		if item.Quantity < quantity {
			l.log.Info("sale exceeds stock, inventory left unchanged",
				zap.String("item_id", item.ID),
				zap.Int("stock", item.Quantity),
				zap.Int("sold", quantity))
			return nil
		}
		item.Quantity -= quantity
		touch(&item.SyncMeta)
		if err := l.repo.PutItem(ctx, item); err != nil {
			return err
		}
		return l.logChange(ctx, domain.CollectionInventory, domain.OpUpdate, item.ID, item.Version, item)
	}
	return nil
}

func (l *Ledger) UpdateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	existing, err := l.repo.GetSale(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	if existing.Deleted() {
		return domain.Sale{}, store.ErrNotFound
	}
	if sale.Version != existing.Version {
		return domain.Sale{}, store.ErrVersionConflict
	}
	if sale.Quantity < 1 || sale.PriceCents < 0 || strings.TrimSpace(sale.ItemName) == "" {
		return domain.Sale{}, store.ErrInvalidRecord
	}

	sale.TotalCents = int64(sale.Quantity) * sale.PriceCents
	touch(&sale.SyncMeta)
	if err := l.repo.PutSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}
	if err := l.logChange(ctx, domain.CollectionSales, domain.OpUpdate, sale.ID, sale.Version, sale); err != nil {
		return domain.Sale{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (l *Ledger) DeleteSale(ctx context.Context, id string) error {
	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}
	if sale.Deleted() {
		return nil
	}
	now := time.Now().UTC()
	sale.DeletedAt = &now
	touch(&sale.SyncMeta)
	if err := l.repo.PutSale(ctx, *sale); err != nil {
		return err
	}
	if err := l.logChange(ctx, domain.CollectionSales, domain.OpDelete, sale.ID, sale.Version, nil); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

func (l *Ledger) AddExpense(ctx context.Context, input domain.ExpenseInput) (domain.Expense, error) {
	input.Category = strings.TrimSpace(input.Category)
	if input.Category == "" || input.AmountCents < 0 {
		return domain.Expense{}, store.ErrInvalidRecord
	}

	expense := domain.Expense{
		SyncMeta: domain.SyncMeta{
			ID:        xid.New("exp"),
			Synced:    false,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		},
		Category:    input.Category,
		AmountCents: input.AmountCents,
		Description: strings.TrimSpace(input.Description),
		ReceiptRef:  input.ReceiptRef,
		Date:        defaultDate(input.Date),
	}

	if err := l.repo.CreateExpense(ctx, expense); err != nil {
		return domain.Expense{}, err
	}
	if err := l.logChange(ctx, domain.CollectionExpenses, domain.OpCreate, expense.ID, expense.Version, expense); err != nil {
		return domain.Expense{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.Expense{}, err
	}
	return expense, nil
}

func (l *Ledger) UpdateExpense(ctx context.Context, expense domain.Expense) (domain.Expense, error) {
	existing, err := l.repo.GetExpense(ctx, expense.ID)
	if err != nil {
		return domain.Expense{}, err
	}
	if existing.Deleted() {
		return domain.Expense{}, store.ErrNotFound
	}
	if expense.Version != existing.Version {
		return domain.Expense{}, store.ErrVersionConflict
	}
	if strings.TrimSpace(expense.Category) == "" || expense.AmountCents < 0 {
		return domain.Expense{}, store.ErrInvalidRecord
	}

	touch(&expense.SyncMeta)
	if err := l.repo.PutExpense(ctx, expense); err != nil {
		return domain.Expense{}, err
	}
	if err := l.logChange(ctx, domain.CollectionExpenses, domain.OpUpdate, expense.ID, expense.Version, expense); err != nil {
		return domain.Expense{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.Expense{}, err
	}
	return expense, nil
}

func (l *Ledger) DeleteExpense(ctx context.Context, id string) error {
	expense, err := l.repo.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	if expense.Deleted() {
		return nil
	}
	now := time.Now().UTC()
	expense.DeletedAt = &now
	touch(&expense.SyncMeta)
	if err := l.repo.PutExpense(ctx, *expense); err != nil {
		return err
	}
	if err := l.logChange(ctx, domain.CollectionExpenses, domain.OpDelete, expense.ID, expense.Version, nil); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

func (l *Ledger) AddItem(ctx context.Context, input domain.ItemInput) (domain.InventoryItem, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" || input.Quantity < 0 || input.PriceCents < 0 || input.CostCents < 0 {
		return domain.InventoryItem{}, store.ErrInvalidRecord
	}

	item := domain.InventoryItem{
		SyncMeta: domain.SyncMeta{
			ID:        xid.New("itm"),
			Synced:    false,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		},
		Name:          input.Name,
		Category:      strings.TrimSpace(input.Category),
		CostCents:     input.CostCents,
		PriceCents:    input.PriceCents,
		Quantity:      input.Quantity,
		LowStockAlert: input.LowStockAlert,
	}

	if err := l.repo.CreateItem(ctx, item); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := l.logChange(ctx, domain.CollectionInventory, domain.OpCreate, item.ID, item.Version, item); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	return item, nil
}

func (l *Ledger) UpdateItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, error) {
	existing, err := l.repo.GetItem(ctx, item.ID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if existing.Deleted() {
		return domain.InventoryItem{}, store.ErrNotFound
	}
	if item.Version != existing.Version {
		return domain.InventoryItem{}, store.ErrVersionConflict
	}
	if strings.TrimSpace(item.Name) == "" || item.Quantity < 0 || item.PriceCents < 0 || item.CostCents < 0 {
		return domain.InventoryItem{}, store.ErrInvalidRecord
	}

	touch(&item.SyncMeta)
	if err := l.repo.PutItem(ctx, item); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := l.logChange(ctx, domain.CollectionInventory, domain.OpUpdate, item.ID, item.Version, item); err != nil {
		return domain.InventoryItem{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	return item, nil
}

func (l *Ledger) DeleteItem(ctx context.Context, id string) error {
	item, err := l.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Deleted() {
		return nil
	}
	now := time.Now().UTC()
	item.DeletedAt = &now
	touch(&item.SyncMeta)
	if err := l.repo.PutItem(ctx, *item); err != nil {
		return err
	}
	if err := l.logChange(ctx, domain.CollectionInventory, domain.OpDelete, item.ID, item.Version, nil); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

func (l *Ledger) AddCustomer(ctx context.Context, input domain.CustomerInput) (domain.Customer, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return domain.Customer{}, store.ErrInvalidRecord
	}

	customer := domain.Customer{
		SyncMeta: domain.SyncMeta{
			ID:        xid.New("cus"),
			Synced:    false,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		},
		Name:  input.Name,
		Phone: strings.TrimSpace(input.Phone),
		Notes: strings.TrimSpace(input.Notes),
	}

	if err := l.repo.CreateCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	if err := l.logChange(ctx, domain.CollectionCustomers, domain.OpCreate, customer.ID, customer.Version, customer); err != nil {
		return domain.Customer{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (l *Ledger) UpdateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	existing, err := l.repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	if existing.Deleted() {
		return domain.Customer{}, store.ErrNotFound
	}
	if customer.Version != existing.Version {
		return domain.Customer{}, store.ErrVersionConflict
	}
	if strings.TrimSpace(customer.Name) == "" {
		return domain.Customer{}, store.ErrInvalidRecord
	}

	touch(&customer.SyncMeta)
	if err := l.repo.PutCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	if err := l.logChange(ctx, domain.CollectionCustomers, domain.OpUpdate, customer.ID, customer.Version, customer); err != nil {
		return domain.Customer{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// DeleteCustomer tombstones the customer and cascades tombstones to every
// debt record referencing it.
func (l *Ledger) DeleteCustomer(ctx context.Context, id string) error {
	customer, err := l.repo.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	if customer.Deleted() {
		return nil
	}

	debts, err := l.repo.ListDebtsByCustomer(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, debt := range debts {
		if debt.Deleted() {
			continue
		}
		debt.DeletedAt = &now
		touch(&debt.SyncMeta)
		if err := l.repo.PutDebt(ctx, debt); err != nil {
			return err
		}
		if err := l.logChange(ctx, domain.CollectionDebts, domain.OpDelete, debt.ID, debt.Version, nil); err != nil {
			return err
		}
	}

	customer.DeletedAt = &now
	touch(&customer.SyncMeta)
	if err := l.repo.PutCustomer(ctx, *customer); err != nil {
		return err
	}
	if err := l.logChange(ctx, domain.CollectionCustomers, domain.OpDelete, customer.ID, customer.Version, nil); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

func (l *Ledger) AddDebt(ctx context.Context, input domain.DebtInput) (domain.DebtRecord, error) {
	if input.Type != domain.DebtTypeCredit && input.Type != domain.DebtTypePayment {
		return domain.DebtRecord{}, store.ErrInvalidRecord
	}
	if input.AmountCents < 1 {
		return domain.DebtRecord{}, store.ErrInvalidRecord
	}
	customer, err := l.repo.GetCustomer(ctx, input.CustomerID)
	if err != nil {
		return domain.DebtRecord{}, err
	}
	if customer.Deleted() {
		return domain.DebtRecord{}, store.ErrNotFound
	}

	debt := domain.DebtRecord{
		SyncMeta: domain.SyncMeta{
			ID:        xid.New("dbt"),
			Synced:    false,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		},
		CustomerID:  input.CustomerID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Description: strings.TrimSpace(input.Description),
		Date:        defaultDate(input.Date),
		DueDate:     input.DueDate,
	}

	if err := l.repo.CreateDebt(ctx, debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.logChange(ctx, domain.CollectionDebts, domain.OpCreate, debt.ID, debt.Version, debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.DebtRecord{}, err
	}
	return debt, nil
}

func (l *Ledger) UpdateDebt(ctx context.Context, debt domain.DebtRecord) (domain.DebtRecord, error) {
	existing, err := l.repo.GetDebt(ctx, debt.ID)
	if err != nil {
		return domain.DebtRecord{}, err
	}
	if existing.Deleted() {
		return domain.DebtRecord{}, store.ErrNotFound
	}
	if debt.Version != existing.Version {
		return domain.DebtRecord{}, store.ErrVersionConflict
	}
	if debt.Type != domain.DebtTypeCredit && debt.Type != domain.DebtTypePayment {
		return domain.DebtRecord{}, store.ErrInvalidRecord
	}
	if debt.AmountCents < 1 {
		return domain.DebtRecord{}, store.ErrInvalidRecord
	}

	touch(&debt.SyncMeta)
	if err := l.repo.PutDebt(ctx, debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.logChange(ctx, domain.CollectionDebts, domain.OpUpdate, debt.ID, debt.Version, debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.DebtRecord{}, err
	}
	return debt, nil
}

func (l *Ledger) DeleteDebt(ctx context.Context, id string) error {
	debt, err := l.repo.GetDebt(ctx, id)
	if err != nil {
		return err
	}
	if debt.Deleted() {
		return nil
	}
	now := time.Now().UTC()
	debt.DeletedAt = &now
	touch(&debt.SyncMeta)
	if err := l.repo.PutDebt(ctx, *debt); err != nil {
		return err
	}
	if err := l.logChange(ctx, domain.CollectionDebts, domain.OpDelete, debt.ID, debt.Version, nil); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

// MarkDebtPaid settles a debt record: it stops counting toward the
// customer's outstanding balance.
func (l *Ledger) MarkDebtPaid(ctx context.Context, id string) (domain.DebtRecord, error) {
	debt, err := l.repo.GetDebt(ctx, id)
	if err != nil {
		return domain.DebtRecord{}, err
	}
	if debt.Deleted() {
		return domain.DebtRecord{}, store.ErrNotFound
	}
	if debt.Paid {
		return *debt, nil
	}

	now := time.Now().UTC()
	debt.Paid = true
	debt.PaidDate = &now
	touch(&debt.SyncMeta)
	if err := l.repo.PutDebt(ctx, *debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.logChange(ctx, domain.CollectionDebts, domain.OpUpdate, debt.ID, debt.Version, *debt); err != nil {
		return domain.DebtRecord{}, err
	}
	if err := l.Refresh(ctx); err != nil {
		return domain.DebtRecord{}, err
	}
	return *debt, nil
}

// CustomerBalance derives the outstanding balance from the debt records:
// unsettled credits minus unsettled payments. The balance is never cached,
// so it cannot drift from its source of truth.
func (l *Ledger) CustomerBalance(ctx context.Context, customerID string) (int64, error) {
	debts, err := l.repo.ListDebtsByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return balanceOf(debts), nil
}

func balanceOf(debts []domain.DebtRecord) int64 {
	var balance int64
	for _, debt := range debts {
		if debt.Deleted() || debt.Paid {
			continue
		}
		switch debt.Type {
		case domain.DebtTypeCredit:
			balance += debt.AmountCents
		case domain.DebtTypePayment:
			balance -= debt.AmountCents
		}
	}
	return balance
}

// Refresh reloads every collection from the store, recomputes derived
// fields and the pending counter, and swaps the snapshot wholesale.
func (l *Ledger) Refresh(ctx context.Context) error {
	sales, err := l.repo.ListSales(ctx)
	if err != nil {
		return err
	}
	expenses, err := l.repo.ListExpenses(ctx)
	if err != nil {
		return err
	}
	items, err := l.repo.ListItems(ctx)
	if err != nil {
		return err
	}
	customers, err := l.repo.ListCustomers(ctx)
	if err != nil {
		return err
	}
	debts, err := l.repo.ListDebts(ctx)
	if err != nil {
		return err
	}

	pendingBy := map[string]int{}
	for _, sale := range sales {
		if !sale.Synced {
			pendingBy[domain.CollectionSales]++
		}
	}
	for _, expense := range expenses {
		if !expense.Synced {
			pendingBy[domain.CollectionExpenses]++
		}
	}
	for _, item := range items {
		if !item.Synced {
			pendingBy[domain.CollectionInventory]++
		}
	}
	for _, customer := range customers {
		if !customer.Synced {
			pendingBy[domain.CollectionCustomers]++
		}
	}
	for _, debt := range debts {
		if !debt.Synced {
			pendingBy[domain.CollectionDebts]++
		}
	}
	total := 0
	for _, n := range pendingBy {
		total += n
	}

	debtsByCustomer := map[string][]domain.DebtRecord{}
	for _, debt := range debts {
		debtsByCustomer[debt.CustomerID] = append(debtsByCustomer[debt.CustomerID], debt)
	}

	snapshot := Snapshot{
		Sales:        make([]domain.Sale, 0, len(sales)),
		Expenses:     make([]domain.Expense, 0, len(expenses)),
		Inventory:    make([]domain.InventoryItem, 0, len(items)),
		Customers:    make([]domain.Customer, 0, len(customers)),
		Debts:        make([]domain.DebtRecord, 0, len(debts)),
		PendingBy:    pendingBy,
		PendingTotal: total,
		LoadedAt:     time.Now().UTC(),
	}
	for _, sale := range sales {
		if !sale.Deleted() {
			snapshot.Sales = append(snapshot.Sales, sale)
		}
	}
	for _, expense := range expenses {
		if !expense.Deleted() {
			snapshot.Expenses = append(snapshot.Expenses, expense)
		}
	}
	for _, item := range items {
		if !item.Deleted() {
			snapshot.Inventory = append(snapshot.Inventory, item)
		}
	}
	for _, customer := range customers {
		if customer.Deleted() {
			continue
		}
		customer.TotalDebtCents = balanceOf(debtsByCustomer[customer.ID])
		snapshot.Customers = append(snapshot.Customers, customer)
	}
	for _, debt := range debts {
		if !debt.Deleted() {
			snapshot.Debts = append(snapshot.Debts, debt)
		}
	}

	slices.SortFunc(snapshot.Sales, func(a, b domain.Sale) int {
		return b.Date.Compare(a.Date)
	})
	slices.SortFunc(snapshot.Expenses, func(a, b domain.Expense) int {
		return b.Date.Compare(a.Date)
	})
	slices.SortFunc(snapshot.Debts, func(a, b domain.DebtRecord) int {
		return b.Date.Compare(a.Date)
	})

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Ledger) PendingTotal() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot.PendingTotal
}

func (l *Ledger) PendingByCollection() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int, len(l.snapshot.PendingBy))
	for collection, n := range l.snapshot.PendingBy {
		counts[collection] = n
	}
	return counts
}

// Profile returns the device profile, creating it with defaults on first run.
func (l *Ledger) Profile(ctx context.Context) (domain.Profile, error) {
	profile, err := l.repo.GetProfile(ctx)
	if err == nil {
		return *profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Profile{}, err
	}
	created := domain.DefaultProfile()
	if err := l.repo.PutProfile(ctx, created); err != nil {
		return domain.Profile{}, err
	}
	return created, nil
}

func (l *Ledger) SetProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	profile.UpdatedAt = time.Now().UTC()
	if err := l.repo.PutProfile(ctx, profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (l *Ledger) ChangeLanguage(ctx context.Context, language string) (domain.Profile, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return domain.Profile{}, store.ErrInvalidRecord
	}
	profile, err := l.Profile(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.Language = language
	return l.SetProfile(ctx, profile)
}

func (l *Ledger) ToggleTheme(ctx context.Context) (domain.Profile, error) {
	profile, err := l.Profile(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if profile.Theme == domain.ThemeDark {
		profile.Theme = domain.ThemeLight
	} else {
		profile.Theme = domain.ThemeDark
	}
	return l.SetProfile(ctx, profile)
}

func (l *Ledger) SetCurrency(ctx context.Context, currency string) (domain.Profile, error) {
	currency = strings.TrimSpace(strings.ToUpper(currency))
	if currency == "" {
		return domain.Profile{}, store.ErrInvalidRecord
	}
	profile, err := l.Profile(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.Currency = currency
	return l.SetProfile(ctx, profile)
}

// AckChange is called by the sync engine after the remote acknowledges one
// change entry. The change is marked acked; if no newer local mutation has
// happened since (same version), the record's synced flag flips, and a
// tombstoned record whose delete was acknowledged is physically purged.
func (l *Ledger) AckChange(ctx context.Context, entry domain.ChangeEntry, at time.Time) error {
	if err := l.repo.AckChange(ctx, entry.ID, at); err != nil {
		return err
	}

	switch entry.Collection {
	case domain.CollectionSales:
		sale, err := l.repo.GetSale(ctx, entry.RecordID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if sale.Version != entry.Version {
			return nil
		}
		if entry.Op == domain.OpDelete && sale.Deleted() {
			return l.repo.DeleteSale(ctx, sale.ID)
		}
		sale.Synced = true
		return l.repo.PutSale(ctx, *sale)
	case domain.CollectionExpenses:
		expense, err := l.repo.GetExpense(ctx, entry.RecordID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if expense.Version != entry.Version {
			return nil
		}
		if entry.Op == domain.OpDelete && expense.Deleted() {
			return l.repo.DeleteExpense(ctx, expense.ID)
		}
		expense.Synced = true
		return l.repo.PutExpense(ctx, *expense)
	case domain.CollectionInventory:
		item, err := l.repo.GetItem(ctx, entry.RecordID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if item.Version != entry.Version {
			return nil
		}
		if entry.Op == domain.OpDelete && item.Deleted() {
			return l.repo.DeleteItem(ctx, item.ID)
		}
		item.Synced = true
		return l.repo.PutItem(ctx, *item)
	case domain.CollectionCustomers:
		customer, err := l.repo.GetCustomer(ctx, entry.RecordID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if customer.Version != entry.Version {
			return nil
		}
		if entry.Op == domain.OpDelete && customer.Deleted() {
			return l.repo.DeleteCustomer(ctx, customer.ID)
		}
		customer.Synced = true
		return l.repo.PutCustomer(ctx, *customer)
	case domain.CollectionDebts:
		debt, err := l.repo.GetDebt(ctx, entry.RecordID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if debt.Version != entry.Version {
			return nil
		}
		if entry.Op == domain.OpDelete && debt.Deleted() {
			return l.repo.DeleteDebt(ctx, debt.ID)
		}
		debt.Synced = true
		return l.repo.PutDebt(ctx, *debt)
	}
	return fmt.Errorf("unknown collection %q in change %s", entry.Collection, entry.ID)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
