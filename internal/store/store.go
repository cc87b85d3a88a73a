package store

import (
	"context"
	"errors"
	"time"

	"lapakku/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidRecord   = errors.New("invalid record")
)

// Repository is the durable keyed store for all collections plus the
// change log that backs the sync queue. List operations return tombstoned
// records too; callers filter on DeletedAt. Put is an upsert by id but
// rejects version regressions with ErrVersionConflict.
type Repository interface {
	ListSales(ctx context.Context) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	PutSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error

	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	CreateExpense(ctx context.Context, expense domain.Expense) error
	PutExpense(ctx context.Context, expense domain.Expense) error
	DeleteExpense(ctx context.Context, id string) error

	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	CreateItem(ctx context.Context, item domain.InventoryItem) error
	PutItem(ctx context.Context, item domain.InventoryItem) error
	DeleteItem(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) error
	PutCustomer(ctx context.Context, customer domain.Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	ListDebts(ctx context.Context) ([]domain.DebtRecord, error)
	ListDebtsByCustomer(ctx context.Context, customerID string) ([]domain.DebtRecord, error)
	GetDebt(ctx context.Context, id string) (*domain.DebtRecord, error)
	CreateDebt(ctx context.Context, debt domain.DebtRecord) error
	PutDebt(ctx context.Context, debt domain.DebtRecord) error
	DeleteDebt(ctx context.Context, id string) error

	GetProfile(ctx context.Context) (*domain.Profile, error)
	PutProfile(ctx context.Context, profile domain.Profile) error

	AppendChange(ctx context.Context, entry domain.ChangeEntry) error
	ListPendingChanges(ctx context.Context, limit int) ([]domain.ChangeEntry, error)
	AckChange(ctx context.Context, changeID string, ackedAt time.Time) error
	BumpChangeAttempt(ctx context.Context, changeID string, reason string) error
	PurgeAckedChanges(ctx context.Context, before time.Time) (int, error)

	GetDeviceID(ctx context.Context) (string, error)
	SetDeviceID(ctx context.Context, deviceID string) error
	GetLastSyncedAt(ctx context.Context) (*time.Time, error)
	SetLastSyncedAt(ctx context.Context, at time.Time) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
