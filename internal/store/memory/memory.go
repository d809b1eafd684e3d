package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/store"
	"wastedesk/backend/internal/xid"
)

type sessionSale struct {
	sessionID int64
	choice    domain.ProductChoice
}

type Store struct {
	mu              sync.RWMutex
	operators       []domain.Operator
	sessions        []domain.WorkSession
	sales           []sessionSale
	spillage        map[int64]domain.SpillageRecord
	nextSpillageID  int64
	stock           map[domain.Subsystem]map[string]int
	recipes         map[domain.Subsystem]map[string][]domain.RecipeLine
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store. Tests seed it through the Seed* helpers.
func New() *Store {
	return &Store{
		spillage:       make(map[int64]domain.SpillageRecord),
		nextSpillageID: 1,
		stock: map[domain.Subsystem]map[string]int{
			domain.SubsystemMerchandise: {},
			domain.SubsystemIngredients: {},
			domain.SubsystemMaterials:   {},
		},
		recipes: map[domain.Subsystem]map[string][]domain.RecipeLine{
			domain.SubsystemIngredients: {},
			domain.SubsystemMaterials:   {},
		},
		auditLogs:       make([]domain.AuditLog, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SUPERVISOR_PASSWORD;
// if unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	supervisorPwd := envOr("SEED_SUPERVISOR_PASSWORD", "supervisor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SUPERVISOR_PASSWORD") == "" {
		logrus.Warn("[memory-store] using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SUPERVISOR_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"supervisor", supervisorPwd, domain.RoleSupervisor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small café roster, sessions, sales and stock.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	s.SeedOperators(
		domain.Operator{Handle: "jcruz", DisplayName: "Jane Cruz"},
		domain.Operator{Handle: "mreyes", DisplayName: "Mark Reyes"},
		domain.Operator{Handle: "asantos", DisplayName: "Ana Santos"},
	)

	y, m, d := time.Now().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	closedEnd := day.Add(-24*time.Hour + 17*time.Hour)
	s.SeedSessions(
		domain.WorkSession{ID: 1, OperatorHandle: "jcruz", Start: day.Add(-24*time.Hour + 8*time.Hour), End: &closedEnd},
		domain.WorkSession{ID: 2, OperatorHandle: "mreyes", Start: day.Add(7 * time.Hour)},
		domain.WorkSession{ID: 3, OperatorHandle: "jcruz", Start: day.Add(8 * time.Hour)},
	)

	for _, sale := range []struct {
		session  int64
		product  string
		category string
	}{
		{1, "Iced Tea", "Beverages"},
		{1, "Cafe Latte", "Beverages"},
		{1, "Mug", "Merchandise"},
		{1, "Blueberry Muffin", "Pastries"},
		{2, "Cafe Latte", "Beverages"},
		{2, "Tote Bag", "All Items"},
		{3, "Iced Tea", "Beverages"},
		{3, "Croissant", "Pastries"},
	} {
		s.SeedSale(sale.session, domain.ProductChoice{ProductName: sale.product, Category: sale.category})
	}

	s.SeedRecipe(domain.SubsystemIngredients, "Iced Tea", domain.RecipeLine{Item: "Tea Leaves (g)", PerUnit: 5}, domain.RecipeLine{Item: "Syrup (ml)", PerUnit: 20})
	s.SeedRecipe(domain.SubsystemMaterials, "Iced Tea", domain.RecipeLine{Item: "Cup 16oz", PerUnit: 1}, domain.RecipeLine{Item: "Straw", PerUnit: 1})
	s.SeedRecipe(domain.SubsystemIngredients, "Cafe Latte", domain.RecipeLine{Item: "Espresso Beans (g)", PerUnit: 18}, domain.RecipeLine{Item: "Milk (ml)", PerUnit: 200})
	s.SeedRecipe(domain.SubsystemMaterials, "Cafe Latte", domain.RecipeLine{Item: "Cup 12oz", PerUnit: 1}, domain.RecipeLine{Item: "Lid", PerUnit: 1})
	s.SeedRecipe(domain.SubsystemIngredients, "Croissant", domain.RecipeLine{Item: "Croissant Dough", PerUnit: 1})
	s.SeedRecipe(domain.SubsystemMaterials, "Croissant", domain.RecipeLine{Item: "Pastry Bag", PerUnit: 1})

	for item, qty := range map[string]int{
		"Tea Leaves (g)": 2000, "Syrup (ml)": 5000, "Espresso Beans (g)": 4000, "Milk (ml)": 20000, "Croissant Dough": 60,
	} {
		s.SeedStock(domain.SubsystemIngredients, item, qty)
	}
	for item, qty := range map[string]int{
		"Cup 16oz": 300, "Cup 12oz": 300, "Straw": 500, "Lid": 500, "Pastry Bag": 200,
	} {
		s.SeedStock(domain.SubsystemMaterials, item, qty)
	}
	for item, qty := range map[string]int{"Mug": 40, "Tote Bag": 25} {
		s.SeedStock(domain.SubsystemMerchandise, item, qty)
	}

	return s
}

func (s *Store) SeedOperators(ops ...domain.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators = append(s.operators, ops...)
}

func (s *Store) SeedSessions(sessions ...domain.WorkSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sessions...)
}

func (s *Store) SeedSale(sessionID int64, choice domain.ProductChoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, sessionSale{sessionID: sessionID, choice: choice})
}

func (s *Store) SeedRecipe(subsystem domain.Subsystem, productName string, lines ...domain.RecipeLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[subsystem][productName] = append([]domain.RecipeLine(nil), lines...)
}

func (s *Store) SeedStock(subsystem domain.Subsystem, item string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[subsystem][item] = qty
}

// StockLevel returns the on-hand quantity of an item in a subsystem.
func (s *Store) StockLevel(subsystem domain.Subsystem, item string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock[subsystem][item]
}

func (s *Store) ListOperators(_ context.Context) ([]domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Operator(nil), s.operators...), nil
}

func (s *Store) ListActiveSessions(_ context.Context) ([]domain.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.WorkSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		copySess := sess
		if sess.End != nil {
			end := *sess.End
			copySess.End = &end
		}
		out = append(out, copySess)
	}
	return out, nil
}

func (s *Store) ListProductsSoldInSession(_ context.Context, sessionID int64) ([]domain.ProductChoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.ProductChoice]struct{})
	out := make([]domain.ProductChoice, 0, 16)
	for _, sale := range s.sales {
		if sale.sessionID != sessionID {
			continue
		}
		if _, ok := seen[sale.choice]; ok {
			continue
		}
		seen[sale.choice] = struct{}{}
		out = append(out, sale.choice)
	}
	return out, nil
}

func (s *Store) ListSpillage(_ context.Context, from string, to string) ([]domain.SpillageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SpillageRecord, 0, len(s.spillage))
	for _, rec := range s.spillage {
		if from != "" && rec.SpillageDate < from {
			continue
		}
		if to != "" && rec.SpillageDate > to {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpillageDate != out[j].SpillageDate {
			return out[i].SpillageDate > out[j].SpillageDate
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) GetSpillage(_ context.Context, id int64) (*domain.SpillageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.spillage[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) CreateSpillage(_ context.Context, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	if !store.ValidPayload(payload) {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := recordFromPayload(s.nextSpillageID, payload)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.spillage[rec.ID] = rec
	s.nextSpillageID++
	return &rec, nil
}

func (s *Store) UpdateSpillage(_ context.Context, id int64, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	if !store.ValidPayload(payload) {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.spillage[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec := recordFromPayload(id, payload)
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.spillage[id] = rec
	return &rec, nil
}

func (s *Store) DeleteSpillage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spillage[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.spillage, id)
	return nil
}

// AdjustInventory applies an adjustment atomically: either every movement
// lands or none does.
func (s *Store) AdjustInventory(_ context.Context, subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	movements, err := store.PlanMovements(subsystem, op, payload, s.recipeLocked)
	if err != nil {
		return err
	}

	levels, ok := s.stock[subsystem]
	if !ok {
		return fmt.Errorf("%w: unknown subsystem %q", store.ErrInvalidRecord, subsystem)
	}
	working := make(map[string]int, len(movements))
	for _, m := range movements {
		current, seen := working[m.Item]
		if !seen {
			current = levels[m.Item]
		}
		next := current + m.Delta
		if next < 0 {
			return fmt.Errorf("%w: %s %s has %d", store.ErrInsufficientStock, subsystem, m.Item, current)
		}
		working[m.Item] = next
	}
	for item, qty := range working {
		levels[item] = qty
	}
	return nil
}

func (s *Store) recipeLocked(subsystem domain.Subsystem, productName string) ([]domain.RecipeLine, error) {
	for name, lines := range s.recipes[subsystem] {
		if strings.EqualFold(name, productName) {
			return lines, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidRecord
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func recordFromPayload(id int64, p domain.SpillagePayload) domain.SpillageRecord {
	return domain.SpillageRecord{
		ID:            id,
		SessionID:     p.SessionID,
		ProductName:   p.ProductName,
		Category:      p.Category,
		Quantity:      p.Quantity,
		SpillageDate:  p.SpillageDate,
		Reason:        p.Reason,
		LoggedBy:      p.LoggedBy,
		CashierHandle: p.CashierHandle,
	}
}
