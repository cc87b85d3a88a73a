package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store"
	"lapakku/backend/internal/store/memory"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	repo := memory.New()
	led := New(repo, nil)
	if err := led.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return led, repo
}

func TestAddSaleComputesTotalAndQueuesChange(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, err := led.AddSale(ctx, domain.SaleInput{
		ItemName:   "Soap",
		Quantity:   3,
		PriceCents: 50000,
	})
	if err != nil {
		t.Fatalf("add sale failed: %v", err)
	}
	if sale.TotalCents != 150000 {
		t.Fatalf("expected total 150000, got %d", sale.TotalCents)
	}
	if sale.PaymentType != domain.PaymentCash {
		t.Fatalf("expected cash default, got %s", sale.PaymentType)
	}
	if sale.Synced {
		t.Fatalf("new sale must start unsynced")
	}
	if sale.Version != 1 {
		t.Fatalf("new sale must start at version 1, got %d", sale.Version)
	}

	pending, err := repo.ListPendingChanges(ctx, 0)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending change, got %d", len(pending))
	}
	if pending[0].Collection != domain.CollectionSales || pending[0].Op != domain.OpCreate {
		t.Fatalf("unexpected change entry: %+v", pending[0])
	}
	if pending[0].RecordID != sale.ID || pending[0].Version != 1 {
		t.Fatalf("change entry does not reference the sale: %+v", pending[0])
	}
	if led.PendingTotal() != 1 {
		t.Fatalf("expected pending total 1, got %d", led.PendingTotal())
	}
}

func TestAddSaleRejectsInvalidInput(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []domain.SaleInput{
		{ItemName: "", Quantity: 1, PriceCents: 100},
		{ItemName: "Soap", Quantity: 0, PriceCents: 100},
		{ItemName: "Soap", Quantity: 1, PriceCents: -1},
		{ItemName: "Soap", Quantity: 1, PriceCents: 100, PaymentType: "barter"},
	}
	for i, input := range cases {
		if _, err := led.AddSale(ctx, input); !errors.Is(err, store.ErrInvalidRecord) {
			t.Fatalf("case %d: expected invalid record, got %v", i, err)
		}
	}
	if led.PendingTotal() != 0 {
		t.Fatalf("rejected sales must not queue changes")
	}
}

func TestAddSaleDecrementsMatchingStock(t *testing.T) {
	repo := memory.NewSeeded()
	led := New(repo, nil)
	ctx := context.Background()
	if err := led.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	before := findItem(t, led, "Soap")

	// Item matching is case-insensitive.
	if _, err := led.AddSale(ctx, domain.SaleInput{ItemName: "soap", Quantity: 2, PriceCents: 50000}); err != nil {
		t.Fatalf("add sale failed: %v", err)
	}

	after := findItem(t, led, "Soap")
	if after.Quantity != before.Quantity-2 {
		t.Fatalf("expected stock %d, got %d", before.Quantity-2, after.Quantity)
	}
	if after.Synced {
		t.Fatalf("decremented item must be marked unsynced")
	}
	if after.Version != before.Version+1 {
		t.Fatalf("expected item version bump to %d, got %d", before.Version+1, after.Version)
	}

	counts := led.PendingByCollection()
	if counts[domain.CollectionSales] != 1 || counts[domain.CollectionInventory] != 1 {
		t.Fatalf("expected one pending sale and one pending item, got %v", counts)
	}
}

func TestSaleExceedingStockLeavesInventoryUnchanged(t *testing.T) {
	repo := memory.NewSeeded()
	led := New(repo, nil)
	ctx := context.Background()
	if err := led.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	before := findItem(t, led, "Bread")

	// Overselling records the sale anyway; stock is a soft signal.
	if _, err := led.AddSale(ctx, domain.SaleInput{ItemName: "Bread", Quantity: before.Quantity + 100, PriceCents: 350000}); err != nil {
		t.Fatalf("add sale failed: %v", err)
	}

	after := findItem(t, led, "Bread")
	if after.Quantity != before.Quantity {
		t.Fatalf("stock must stay unchanged, got %d want %d", after.Quantity, before.Quantity)
	}
	if counts := led.PendingByCollection(); counts[domain.CollectionInventory] != 0 {
		t.Fatalf("no inventory change should be queued, got %v", counts)
	}
}

func TestUpdateSaleRequiresMatchingVersion(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	sale, err := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	if err != nil {
		t.Fatalf("add sale failed: %v", err)
	}

	stale := sale
	stale.Version = 99
	if _, err := led.UpdateSale(ctx, stale); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	sale.Quantity = 4
	updated, err := led.UpdateSale(ctx, sale)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", updated.Version)
	}
	if updated.TotalCents != 200000 {
		t.Fatalf("expected total recomputed to 200000, got %d", updated.TotalCents)
	}
}

func TestDeleteSaleIsTombstone(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, err := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	if err != nil {
		t.Fatalf("add sale failed: %v", err)
	}
	if err := led.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if got := len(led.Snapshot().Sales); got != 0 {
		t.Fatalf("tombstoned sale must not appear in the snapshot, got %d sales", got)
	}

	stored, err := repo.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("tombstoned sale must still exist in the store: %v", err)
	}
	if !stored.Deleted() {
		t.Fatalf("expected DeletedAt set")
	}
	if stored.Synced {
		t.Fatalf("tombstone must be unsynced until the delete is acked")
	}

	pending, _ := repo.ListPendingChanges(ctx, 0)
	if len(pending) != 2 {
		t.Fatalf("expected create + delete entries, got %d", len(pending))
	}
	if pending[1].Op != domain.OpDelete || pending[1].Payload != nil {
		t.Fatalf("delete entry must carry no payload: %+v", pending[1])
	}

	// Deleting again is a no-op.
	if err := led.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
}

func TestCustomerBalanceIsDerived(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	customer, err := led.AddCustomer(ctx, domain.CustomerInput{Name: "Amina"})
	if err != nil {
		t.Fatalf("add customer failed: %v", err)
	}

	credit, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypeCredit, AmountCents: 5000})
	if err != nil {
		t.Fatalf("add credit failed: %v", err)
	}
	if balance := mustBalance(t, led, customer.ID); balance != 5000 {
		t.Fatalf("expected balance 5000, got %d", balance)
	}

	if _, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypePayment, AmountCents: 2000}); err != nil {
		t.Fatalf("add payment failed: %v", err)
	}
	if balance := mustBalance(t, led, customer.ID); balance != 3000 {
		t.Fatalf("expected balance 3000 after payment, got %d", balance)
	}

	if _, err := led.MarkDebtPaid(ctx, credit.ID); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if balance := mustBalance(t, led, customer.ID); balance != -2000 {
		t.Fatalf("settled credit leaves only the payment, expected -2000, got %d", balance)
	}

	// The snapshot carries the same derived number.
	for _, c := range led.Snapshot().Customers {
		if c.ID == customer.ID && c.TotalDebtCents != -2000 {
			t.Fatalf("snapshot balance mismatch: %d", c.TotalDebtCents)
		}
	}
}

func TestMarkDebtPaidSettlesBalance(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	customer, _ := led.AddCustomer(ctx, domain.CustomerInput{Name: "Okello"})
	debt, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypeCredit, AmountCents: 5000})
	if err != nil {
		t.Fatalf("add debt failed: %v", err)
	}

	paid, err := led.MarkDebtPaid(ctx, debt.ID)
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if !paid.Paid || paid.PaidDate == nil {
		t.Fatalf("expected paid flag and date, got %+v", paid)
	}
	if paid.Version != 2 {
		t.Fatalf("settling must bump the version, got %d", paid.Version)
	}
	if balance := mustBalance(t, led, customer.ID); balance != 0 {
		t.Fatalf("expected balance 0 after settling, got %d", balance)
	}

	// Idempotent: a second call changes nothing.
	again, err := led.MarkDebtPaid(ctx, debt.ID)
	if err != nil {
		t.Fatalf("repeat mark paid failed: %v", err)
	}
	if again.Version != paid.Version {
		t.Fatalf("repeat settle must not bump the version: %d vs %d", again.Version, paid.Version)
	}
}

func TestAddDebtValidation(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	customer, _ := led.AddCustomer(ctx, domain.CustomerInput{Name: "Grace"})

	if _, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: "loan", AmountCents: 100}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected invalid record for unknown type, got %v", err)
	}
	if _, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypeCredit, AmountCents: 0}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected invalid record for zero amount, got %v", err)
	}
	if _, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: "cus-missing", Type: domain.DebtTypeCredit, AmountCents: 100}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown customer, got %v", err)
	}
}

func TestDeleteCustomerCascadesToDebts(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	customer, _ := led.AddCustomer(ctx, domain.CustomerInput{Name: "Sarah"})
	debt, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypeCredit, AmountCents: 7000})
	if err != nil {
		t.Fatalf("add debt failed: %v", err)
	}

	if err := led.DeleteCustomer(ctx, customer.ID); err != nil {
		t.Fatalf("delete customer failed: %v", err)
	}

	snapshot := led.Snapshot()
	if len(snapshot.Customers) != 0 || len(snapshot.Debts) != 0 {
		t.Fatalf("customer and debts must leave the snapshot together")
	}

	stored, err := repo.GetDebt(ctx, debt.ID)
	if err != nil {
		t.Fatalf("cascaded debt must still exist as a tombstone: %v", err)
	}
	if !stored.Deleted() {
		t.Fatalf("expected debt tombstoned")
	}

	// Adding a debt against the tombstoned customer now fails.
	if _, err := led.AddDebt(ctx, domain.DebtInput{CustomerID: customer.ID, Type: domain.DebtTypeCredit, AmountCents: 100}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for tombstoned customer, got %v", err)
	}
}

func TestAckChangeFlipsSyncedFlag(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, _ := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	pending, _ := repo.ListPendingChanges(ctx, 0)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending change, got %d", len(pending))
	}

	if err := led.AckChange(ctx, pending[0], time.Now().UTC()); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	stored, _ := repo.GetSale(ctx, sale.ID)
	if !stored.Synced {
		t.Fatalf("acked sale must be marked synced")
	}
	if remaining, _ := repo.ListPendingChanges(ctx, 0); len(remaining) != 0 {
		t.Fatalf("acked entry must leave the queue, got %d", len(remaining))
	}

	if err := led.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if led.PendingTotal() != 0 {
		t.Fatalf("expected pending total 0, got %d", led.PendingTotal())
	}
}

func TestAckChangeSkipsStaleVersion(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, _ := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	pending, _ := repo.ListPendingChanges(ctx, 0)
	createEntry := pending[0]

	// A newer local edit lands before the create is acked.
	sale.Quantity = 2
	if _, err := led.UpdateSale(ctx, sale); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if err := led.AckChange(ctx, createEntry, time.Now().UTC()); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	stored, _ := repo.GetSale(ctx, sale.ID)
	if stored.Synced {
		t.Fatalf("record with newer local version must stay unsynced")
	}

	pending, _ = repo.ListPendingChanges(ctx, 0)
	if len(pending) != 1 {
		t.Fatalf("expected the update entry still pending, got %d", len(pending))
	}
	if err := led.AckChange(ctx, pending[0], time.Now().UTC()); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	stored, _ = repo.GetSale(ctx, sale.ID)
	if !stored.Synced {
		t.Fatalf("record must be synced once the latest entry is acked")
	}
}

func TestAckedDeletePurgesTombstone(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, _ := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	if err := led.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	pending, _ := repo.ListPendingChanges(ctx, 0)
	for _, entry := range pending {
		if err := led.AckChange(ctx, entry, time.Now().UTC()); err != nil {
			t.Fatalf("ack failed: %v", err)
		}
	}

	if _, err := repo.GetSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("acked delete must purge the tombstone, got %v", err)
	}
}

func TestAckChangeToleratesMissingRecord(t *testing.T) {
	led, repo := newTestLedger(t)
	ctx := context.Background()

	sale, _ := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	pending, _ := repo.ListPendingChanges(ctx, 0)

	// Simulate a record hard-deleted out of band.
	if err := repo.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("hard delete failed: %v", err)
	}
	if err := led.AckChange(ctx, pending[0], time.Now().UTC()); err != nil {
		t.Fatalf("ack of an orphan entry must not error: %v", err)
	}
}

func TestProfileDefaultsAndToggles(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	profile, err := led.Profile(ctx)
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if profile.ShopName != "My Shop" || profile.Currency != "UGX" || profile.Theme != domain.ThemeLight || profile.Language != "en" {
		t.Fatalf("unexpected default profile: %+v", profile)
	}

	toggled, err := led.ToggleTheme(ctx)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if toggled.Theme != domain.ThemeDark {
		t.Fatalf("expected dark theme, got %s", toggled.Theme)
	}
	toggled, _ = led.ToggleTheme(ctx)
	if toggled.Theme != domain.ThemeLight {
		t.Fatalf("expected light theme after second toggle, got %s", toggled.Theme)
	}

	if _, err := led.ChangeLanguage(ctx, "  "); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected invalid record for blank language, got %v", err)
	}
	updated, err := led.ChangeLanguage(ctx, "lg")
	if err != nil {
		t.Fatalf("change language failed: %v", err)
	}
	if updated.Language != "lg" {
		t.Fatalf("expected language lg, got %s", updated.Language)
	}

	updated, err = led.SetCurrency(ctx, "kes")
	if err != nil {
		t.Fatalf("set currency failed: %v", err)
	}
	if updated.Currency != "KES" {
		t.Fatalf("expected uppercased currency, got %s", updated.Currency)
	}
}

// failingStore simulates write failures underneath the ledger.
type failingStore struct {
	store.Repository
}

func (f *failingStore) CreateSale(context.Context, domain.Sale) error {
	return errors.New("disk full")
}

func TestFailedCreateQueuesNothing(t *testing.T) {
	repo := memory.New()
	led := New(&failingStore{Repository: repo}, nil)
	ctx := context.Background()
	if err := led.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := led.AddSale(ctx, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 100}); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if pending, _ := repo.ListPendingChanges(ctx, 0); len(pending) != 0 {
		t.Fatalf("failed create must not queue a change, got %d", len(pending))
	}
}

func findItem(t *testing.T, led *Ledger, name string) domain.InventoryItem {
	t.Helper()
	for _, item := range led.Snapshot().Inventory {
		if item.Name == name {
			return item
		}
	}
	t.Fatalf("item %q not in snapshot", name)
	return domain.InventoryItem{}
}

func mustBalance(t *testing.T, led *Ledger, customerID string) int64 {
	t.Helper()
	balance, err := led.CustomerBalance(context.Background(), customerID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	return balance
}
