package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/store"
	"wastedesk/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, display_name
		FROM operators
		WHERE active = true
		ORDER BY display_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]domain.Operator, 0, 16)
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(&op.Handle, &op.DisplayName); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListActiveSessions returns open sessions plus those closed within the last
// 90 days, which bounds how far back spillage can be attributed.
func (s *Store) ListActiveSessions(ctx context.Context) ([]domain.WorkSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operator_handle, started_at, ended_at
		FROM work_sessions
		WHERE ended_at IS NULL OR ended_at >= now() - interval '90 days'
		ORDER BY started_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]domain.WorkSession, 0, 64)
	for rows.Next() {
		var (
			sess  domain.WorkSession
			ended sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.OperatorHandle, &sess.Start, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			end := ended.Time
			sess.End = &end
		}
		list = append(list, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) ListProductsSoldInSession(ctx context.Context, sessionID int64) ([]domain.ProductChoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_name, category
		FROM session_sales
		WHERE session_id = $1
		GROUP BY product_name, category
		ORDER BY MIN(sold_at), product_name
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProductChoice, 0, 16)
	for rows.Next() {
		var c domain.ProductChoice
		if err := rows.Scan(&c.ProductName, &c.Category); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const spillageColumns = `id, session_id, product_name, category, quantity, spillage_date, reason, logged_by, cashier_handle, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpillage(row scanner) (domain.SpillageRecord, error) {
	var (
		rec  domain.SpillageRecord
		date time.Time
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ProductName, &rec.Category, &rec.Quantity, &date, &rec.Reason, &rec.LoggedBy, &rec.CashierHandle, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.SpillageDate = date.Format(domain.DateLayout)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *Store) ListSpillage(ctx context.Context, from string, to string) ([]domain.SpillageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+spillageColumns+`
		FROM spillage_records
		WHERE ($1::date IS NULL OR spillage_date >= $1::date)
			AND ($2::date IS NULL OR spillage_date <= $2::date)
		ORDER BY spillage_date DESC, id DESC
	`, nullIfEmpty(from), nullIfEmpty(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SpillageRecord, 0, 64)
	for rows.Next() {
		rec, err := scanSpillage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetSpillage(ctx context.Context, id int64) (*domain.SpillageRecord, error) {
	rec, err := scanSpillage(s.db.QueryRowContext(ctx, `
		SELECT `+spillageColumns+`
		FROM spillage_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) CreateSpillage(ctx context.Context, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	if !store.ValidPayload(payload) {
		return nil, store.ErrInvalidRecord
	}

	rec, err := scanSpillage(s.db.QueryRowContext(ctx, `
		INSERT INTO spillage_records (
			session_id, product_name, category, quantity, spillage_date, reason, logged_by, cashier_handle, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,now(),now())
		RETURNING `+spillageColumns,
		payload.SessionID, payload.ProductName, payload.Category, payload.Quantity, payload.SpillageDate, payload.Reason, payload.LoggedBy, payload.CashierHandle))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpdateSpillage(ctx context.Context, id int64, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	if !store.ValidPayload(payload) {
		return nil, store.ErrInvalidRecord
	}

	rec, err := scanSpillage(s.db.QueryRowContext(ctx, `
		UPDATE spillage_records
		SET session_id = $2, product_name = $3, category = $4, quantity = $5, spillage_date = $6::date,
			reason = $7, logged_by = $8, cashier_handle = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+spillageColumns,
		id, payload.SessionID, payload.ProductName, payload.Category, payload.Quantity, payload.SpillageDate, payload.Reason, payload.LoggedBy, payload.CashierHandle))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteSpillage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spillage_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustInventory applies every movement of one adjustment in a single
// transaction. A movement that would leave an item below zero rolls back the
// whole adjustment.
func (s *Store) AdjustInventory(ctx context.Context, subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	recipes, err := loadRecipes(ctx, tx, subsystem, payload)
	if err != nil {
		return err
	}
	movements, err := store.PlanMovements(subsystem, op, payload, func(_ domain.Subsystem, productName string) ([]domain.RecipeLine, error) {
		return recipes[strings.ToLower(productName)], nil
	})
	if err != nil {
		return err
	}

	for _, m := range movements {
		var qty int
		err := tx.QueryRowContext(ctx, `
			INSERT INTO inventory_stock (subsystem, item, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (subsystem, item)
			DO UPDATE SET qty = inventory_stock.qty + EXCLUDED.qty, updated_at = now()
			RETURNING qty
		`, string(subsystem), m.Item, m.Delta).Scan(&qty)
		if err != nil {
			return err
		}
		if qty < 0 {
			return fmt.Errorf("%w: %s %s has %d", store.ErrInsufficientStock, subsystem, m.Item, qty-m.Delta)
		}
	}

	return tx.Commit()
}

func loadRecipes(ctx context.Context, tx *sql.Tx, subsystem domain.Subsystem, payload domain.InventoryPayload) (map[string][]domain.RecipeLine, error) {
	names := make([]string, 0, 2)
	for _, line := range []*domain.InventoryLine{payload.Old, payload.New} {
		if line != nil {
			names = append(names, strings.ToLower(line.ProductName))
		}
	}
	recipes := make(map[string][]domain.RecipeLine, len(names))
	if subsystem == domain.SubsystemMerchandise || len(names) == 0 {
		return recipes, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT lower(product_name), item, per_unit
		FROM product_recipes
		WHERE subsystem = $1 AND lower(product_name) = ANY($2)
		ORDER BY product_name, item
	`, string(subsystem), names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			line domain.RecipeLine
		)
		if err := rows.Scan(&name, &line.Item, &line.PerUnit); err != nil {
			return nil, err
		}
		recipes[name] = append(recipes[name], line)
	}
	return recipes, rows.Err()
}

func (s *Store) StockLevel(ctx context.Context, subsystem domain.Subsystem, item string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM inventory_stock WHERE subsystem = $1 AND item = $2
	`, string(subsystem), item).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleSupervisor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
