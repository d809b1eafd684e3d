package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("WASTEDESK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WASTEDESK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestSpillageLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	handle := fmt.Sprintf("it-op-%d", stamp)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO operators (handle, display_name) VALUES ($1, 'Integration Operator')`, handle); err != nil {
		t.Fatalf("insert operator: %v", err)
	}
	var sessionID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO work_sessions (operator_handle, started_at) VALUES ($1, now()) RETURNING id
	`, handle).Scan(&sessionID); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO session_sales (session_id, product_name, category) VALUES ($1, 'Iced Tea', 'Beverages'), ($1, 'Iced Tea', 'Beverages')
	`, sessionID); err != nil {
		t.Fatalf("insert sales: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM spillage_records WHERE session_id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_sales WHERE session_id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM work_sessions WHERE id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM operators WHERE handle = $1`, handle)
	})

	choices, err := s.ListProductsSoldInSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(choices) != 1 || choices[0].ProductName != "Iced Tea" {
		t.Fatalf("expected one distinct product, got %+v", choices)
	}

	payload := domain.SpillagePayload{
		SessionID: sessionID, ProductName: "Iced Tea", Category: "Beverages", Quantity: 2,
		SpillageDate: "2024-03-01", Reason: "dropped", LoggedBy: "admin", CashierHandle: handle,
	}
	rec, err := s.CreateSpillage(ctx, payload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SpillageDate != "2024-03-01" || rec.Quantity != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}

	payload.Quantity = 5
	updated, err := s.UpdateSpillage(ctx, rec.ID, payload)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 5 || !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("unexpected update %+v", updated)
	}

	list, err := s.ListSpillage(ctx, "2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, r := range list {
		if r.ID == rec.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected record %d in range listing", rec.ID)
	}

	if err := s.DeleteSpillage(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSpillage(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAdjustInventoryRollsBackOnShortage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	product := fmt.Sprintf("IT Latte %d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_recipes WHERE product_name = $1`, product)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_stock WHERE item LIKE $1`, product+"%")
	})
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO product_recipes (subsystem, product_name, item, per_unit)
		VALUES ('ingredients', $1, $2, 10), ('ingredients', $1, $3, 1)
	`, product, product+" milk", product+" shot"); err != nil {
		t.Fatalf("insert recipe: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stock (subsystem, item, qty) VALUES ('ingredients', $1, 100), ('ingredients', $2, 1)
	`, product+" milk", product+" shot"); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	line := &domain.InventoryLine{ProductName: product, Category: "Beverages", Quantity: 2}
	err := s.AdjustInventory(ctx, domain.SubsystemIngredients, domain.OperationDeduct, domain.InventoryPayload{New: line})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	milk, err := s.StockLevel(ctx, domain.SubsystemIngredients, product+" milk")
	if err != nil {
		t.Fatalf("stock level: %v", err)
	}
	if milk != 100 {
		t.Fatalf("expected rollback to keep milk at 100, got %d", milk)
	}

	line.Quantity = 1
	if err := s.AdjustInventory(ctx, domain.SubsystemIngredients, domain.OperationDeduct, domain.InventoryPayload{New: line}); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if milk, _ = s.StockLevel(ctx, domain.SubsystemIngredients, product+" milk"); milk != 90 {
		t.Fatalf("expected milk 90, got %d", milk)
	}
}
