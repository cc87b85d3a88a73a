package domain

import (
	"encoding/json"
	"time"
)

// SyncMeta is embedded in every syncable record. A record is "dirty" while
// Synced is false; the sync engine flips it after the remote acknowledges
// the corresponding change-log entry. Version increases monotonically on
// every local mutation so the remote can reject stale writes.
type SyncMeta struct {
	ID        string     `json:"id"`
	Synced    bool       `json:"synced"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (m SyncMeta) Deleted() bool {
	return m.DeletedAt != nil
}

const (
	PaymentCash        = "cash"
	PaymentMobileMoney = "mobile-money"
	PaymentCredit      = "credit"
)

type Sale struct {
	SyncMeta
	ItemName     string    `json:"item_name"`
	Quantity     int       `json:"quantity"`
	PriceCents   int64     `json:"price_cents"`
	TotalCents   int64     `json:"total_cents"`
	PaymentType  string    `json:"payment_type"`
	CustomerName string    `json:"customer_name,omitempty"`
	CustomerNote string    `json:"customer_note,omitempty"`
	Date         time.Time `json:"date"`
}

type SaleInput struct {
	ItemName     string     `json:"item_name"`
	Quantity     int        `json:"quantity"`
	PriceCents   int64      `json:"price_cents"`
	PaymentType  string     `json:"payment_type"`
	CustomerName string     `json:"customer_name,omitempty"`
	CustomerNote string     `json:"customer_note,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
}

type Expense struct {
	SyncMeta
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
	ReceiptRef  string    `json:"receipt_ref,omitempty"`
	Date        time.Time `json:"date"`
}

type ExpenseInput struct {
	Category    string     `json:"category"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description,omitempty"`
	ReceiptRef  string     `json:"receipt_ref,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type InventoryItem struct {
	SyncMeta
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	CostCents     int64  `json:"cost_cents"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	LowStockAlert int    `json:"low_stock_alert"`
}

type ItemInput struct {
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	CostCents     int64  `json:"cost_cents"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	LowStockAlert int    `json:"low_stock_alert"`
}

// Customer.TotalDebtCents is derived from the customer's debt records on
// every read and is never persisted; see ledger.CustomerBalance.
type Customer struct {
	SyncMeta
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Notes          string `json:"notes,omitempty"`
	TotalDebtCents int64  `json:"total_debt_cents"`
}

type CustomerInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

const (
	DebtTypeCredit  = "credit"
	DebtTypePayment = "payment"
)

type DebtRecord struct {
	SyncMeta
	CustomerID  string     `json:"customer_id"`
	Type        string     `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description,omitempty"`
	Date        time.Time  `json:"date"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Paid        bool       `json:"paid"`
	PaidDate    *time.Time `json:"paid_date,omitempty"`
}

type DebtInput struct {
	CustomerID  string     `json:"customer_id"`
	Type        string     `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Profile is the singleton per-device shop profile. It stays local to the
// device and is not routed through the change log.
type Profile struct {
	Email     string    `json:"email"`
	ShopName  string    `json:"shop_name"`
	Phone     string    `json:"phone,omitempty"`
	Currency  string    `json:"currency"`
	Theme     string    `json:"theme"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
}

func DefaultProfile() Profile {
	return Profile{
		ShopName:  "My Shop",
		Currency:  "UGX",
		Theme:     ThemeLight,
		Language:  "en",
		UpdatedAt: time.Now().UTC(),
	}
}

// Collection names, used as change-log keys and storage namespaces.
const (
	CollectionSales     = "sales"
	CollectionExpenses  = "expenses"
	CollectionInventory = "inventory"
	CollectionCustomers = "customers"
	CollectionDebts     = "debts"
)

func Collections() []string {
	return []string{
		CollectionSales,
		CollectionExpenses,
		CollectionInventory,
		CollectionCustomers,
		CollectionDebts,
	}
}

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEntry is one row of the append-only change log. The log, processed
// oldest-first, is the sync queue; the Synced flag on records is the
// UI-facing signal derived from it.
type ChangeEntry struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Op         string          `json:"op"`
	RecordID   string          `json:"record_id"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
	AckedAt    *time.Time      `json:"acked_at,omitempty"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// PushEnvelope is the wire format for one upload round. Statuses come back
// per entry so a partial failure never blocks the accepted remainder.
type PushEnvelope struct {
	EnvelopeID string        `json:"envelope_id"`
	DeviceID   string        `json:"device_id"`
	SentAt     time.Time     `json:"sent_at"`
	Entries    []ChangeEntry `json:"entries"`
}

const (
	PushAccepted  = "accepted"
	PushDuplicate = "duplicate"
	PushRejected  = "rejected"
)

type PushStatus struct {
	ChangeID string `json:"change_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

type PushResult struct {
	EnvelopeID string       `json:"envelope_id"`
	Statuses   []PushStatus `json:"statuses"`
}

type SyncStatus struct {
	Online       bool           `json:"online"`
	Syncing      bool           `json:"syncing"`
	PendingTotal int            `json:"pending_total"`
	PendingBy    map[string]int `json:"pending_by_collection"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	DeviceID     string         `json:"device_id"`
}

type DailySummary struct {
	Date          string           `json:"date"`
	SalesCents    int64            `json:"sales_cents"`
	ExpenseCents  int64            `json:"expense_cents"`
	ProfitCents   int64            `json:"profit_cents"`
	SaleCount     int              `json:"sale_count"`
	ExpenseCount  int              `json:"expense_count"`
	SalesByMethod map[string]int64 `json:"sales_by_method"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
