package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/xid"
)

//go:embed schema.sql
var schema string

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

// Migrate creates missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, base_price, tax_percent, barcode, qr_code
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, base_price, tax_percent, barcode, qr_code
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const inventoryColumns = `
	id, location_id, product_id, name, category, current_stock, unit,
	selling_price, cost_price, tax_percent, barcode, qr_code, location_specific, updated_at
`

func (s *Store) ListInventoryItems(ctx context.Context, locationID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE location_id = $1
		ORDER BY category, name
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 128)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := scanInventoryItem(s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// FindInventoryItemByCode matches the row's own codes first and falls back
// to the codes of the linked master product.
func (s *Store) FindInventoryItemByCode(ctx context.Context, locationID string, code string) (*domain.InventoryItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}

	item, err := scanInventoryItem(s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("i", inventoryColumns)+`
		FROM inventory_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.location_id = $1
			AND (i.barcode = $2 OR i.qr_code = $2 OR p.barcode = $2 OR p.qr_code = $2)
		ORDER BY (i.barcode = $2 OR i.qr_code = $2) DESC, i.name
		LIMIT 1
	`, locationID, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" {
		item.ID = xid.New("inv")
	}
	item.CurrentStock = 0
	item.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, location_id, product_id, name, category, current_stock, unit,
			selling_price, cost_price, tax_percent, barcode, qr_code, location_specific, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,$10,$11,$12,$13)
	`, item.ID, item.LocationID, nullString(item.ProductID), item.Name, item.Category, item.Unit,
		item.SellingPrice, item.CostPrice, item.TaxPercent, item.Barcode, item.QRCode, item.LocationSpecific, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) CompareAndSwapStock(ctx context.Context, itemID string, expected int, next int) (bool, error) {
	if next < 0 {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET current_stock = $3, updated_at = now()
		WHERE id = $1 AND current_stock = $2
	`, itemID, expected, next)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

const movementColumns = `
	id, inventory_item_id, location_id, movement_type, quantity, reason, reference_id,
	actor_id, COALESCE(idempotency_key, ''), stock_before, stock_after, created_at
`

func (s *Store) AppendMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, inventory_item_id, location_id, movement_type, quantity, reason, reference_id,
			actor_id, idempotency_key, stock_before, stock_after, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, movement.ID, movement.InventoryItemID, movement.LocationID, string(movement.Type), movement.Quantity,
		movement.Reason, movement.ReferenceID, movement.ActorID, nullString(movement.IdempotencyKey),
		movement.StockBefore, movement.StockAfter, movement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	saved := movement
	return &saved, nil
}

func (s *Store) FindMovementByKey(ctx context.Context, key string) (*domain.InventoryMovement, error) {
	m, err := scanMovement(s.db.QueryRowContext(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE idempotency_key = $1
	`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMovements returns matches oldest first. A positive limit keeps the
// most recent entries.
func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		conditions = append(conditions, fmt.Sprintf("inventory_item_id = $%d", len(args)))
	}
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		conditions = append(conditions, fmt.Sprintf("reference_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := ""
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		limit = fmt.Sprintf("LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM (
			SELECT * FROM inventory_movements
			`+where+`
			ORDER BY seq DESC
			`+limit+`
		) recent
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, 32)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleTransaction) (*domain.SaleTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sale_transactions (
			id, transaction_number, location_id, cashier_id, payment_method, total_amount,
			amount_tendered, change_due, tax_included, status, created_at, settled_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.Number, sale.LocationID, sale.CashierID, sale.PaymentMethod, sale.TotalAmount,
		sale.AmountTendered, sale.ChangeDue, sale.TaxIncluded, string(sale.Status), sale.CreatedAt, sale.SettledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i, line := range sale.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, item_id, name, quantity, unit_price, tax_percent, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i, line.ItemID, line.Name, line.Quantity, line.UnitPrice, line.TaxPercent, line.LineTotal); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

const saleColumns = `
	id, transaction_number, location_id, cashier_id, payment_method, total_amount,
	amount_tendered, change_due, tax_included, status, created_at, settled_at
`

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleTransaction, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sale_transactions
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.saleLines(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return &sale, nil
}

func (s *Store) SetSaleStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error {
	return s.setStatus(ctx, "sale_transactions", id, status, at)
}

func (s *Store) ListPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.SaleTransaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sale_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleTransaction, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.saleLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, item_id, name, quantity, unit_price, tax_percent, line_total
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ItemID, &line.Name, &line.Quantity, &line.UnitPrice, &line.TaxPercent, &line.LineTotal); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO return_records (
			id, return_number, location_id, processed_by, reason, total_amount, status, created_at, settled_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, record.ID, record.Number, record.LocationID, record.ProcessedBy, record.Reason, record.TotalAmount,
		string(record.Status), record.CreatedAt, record.SettledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i, line := range record.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, line_no, item_id, name, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, record.ID, i, line.ItemID, line.Name, line.Quantity, line.UnitPrice, line.LineTotal); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := record
	return &saved, nil
}

const returnColumns = `
	id, return_number, location_id, processed_by, reason, total_amount, status, created_at, settled_at
`

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	record, err := scanReturn(s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM return_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.returnLines(ctx, []string{record.ID})
	if err != nil {
		return nil, err
	}
	record.Lines = lines[record.ID]
	return &record, nil
}

func (s *Store) SetReturnStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error {
	return s.setStatus(ctx, "return_records", id, status, at)
}

func (s *Store) ListPendingReturns(ctx context.Context, createdBefore time.Time, limit int) ([]domain.ReturnRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM return_records
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ReturnRecord, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		record, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		ids = append(ids, record.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.returnLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Lines = lines[records[i].ID]
	}
	return records, nil
}

func (s *Store) returnLines(ctx context.Context, returnIDs []string) (map[string][]domain.ReturnLine, error) {
	result := make(map[string][]domain.ReturnLine, len(returnIDs))
	if len(returnIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT return_id, item_id, name, quantity, unit_price, line_total
		FROM return_lines
		WHERE return_id = ANY($1)
		ORDER BY return_id, line_no
	`, returnIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var returnID string
		var line domain.ReturnLine
		if err := rows.Scan(&returnID, &line.ItemID, &line.Name, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		result[returnID] = append(result[returnID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// setStatus is shared by sale and return headers; table is never user input.
func (s *Store) setStatus(ctx context.Context, table string, id string, status domain.RecordStatus, at time.Time) error {
	var settledAt any
	if status == domain.StatusSettled {
		settledAt = at.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = $2, settled_at = $3
		WHERE id = $1
	`, id, string(status), settledAt)
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

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, location_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.LocationID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, locationID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE $1 = '' OR location_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.LocationID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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
		return domain.NewValidationError("username and password are required")
	}
	if user.Role == "" {
		user.Role = "cashier"
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
			return store.ErrConflict
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
		return domain.NewValidationError("username and password are required")
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var tax sql.NullFloat64
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.BasePrice, &tax, &p.Barcode, &p.QRCode); err != nil {
		return domain.Product{}, err
	}
	if tax.Valid {
		p.TaxPercent = &tax.Float64
	}
	return p, nil
}

func scanInventoryItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	var productID sql.NullString
	var cost sql.NullInt64
	var tax sql.NullFloat64
	if err := row.Scan(
		&item.ID, &item.LocationID, &productID, &item.Name, &item.Category, &item.CurrentStock, &item.Unit,
		&item.SellingPrice, &cost, &tax, &item.Barcode, &item.QRCode, &item.LocationSpecific, &item.UpdatedAt,
	); err != nil {
		return domain.InventoryItem{}, err
	}
	item.ProductID = productID.String
	if cost.Valid {
		item.CostPrice = &cost.Int64
	}
	if tax.Valid {
		item.TaxPercent = &tax.Float64
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func scanMovement(row rowScanner) (domain.InventoryMovement, error) {
	var m domain.InventoryMovement
	var movementType string
	if err := row.Scan(
		&m.ID, &m.InventoryItemID, &m.LocationID, &movementType, &m.Quantity, &m.Reason, &m.ReferenceID,
		&m.ActorID, &m.IdempotencyKey, &m.StockBefore, &m.StockAfter, &m.CreatedAt,
	); err != nil {
		return domain.InventoryMovement{}, err
	}
	m.Type = domain.MovementType(movementType)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func scanSale(row rowScanner) (domain.SaleTransaction, error) {
	var sale domain.SaleTransaction
	var status string
	var settledAt sql.NullTime
	if err := row.Scan(
		&sale.ID, &sale.Number, &sale.LocationID, &sale.CashierID, &sale.PaymentMethod, &sale.TotalAmount,
		&sale.AmountTendered, &sale.ChangeDue, &sale.TaxIncluded, &status, &sale.CreatedAt, &settledAt,
	); err != nil {
		return domain.SaleTransaction{}, err
	}
	sale.Status = domain.RecordStatus(status)
	sale.CreatedAt = sale.CreatedAt.UTC()
	if settledAt.Valid {
		at := settledAt.Time.UTC()
		sale.SettledAt = &at
	}
	return sale, nil
}

func scanReturn(row rowScanner) (domain.ReturnRecord, error) {
	var record domain.ReturnRecord
	var status string
	var settledAt sql.NullTime
	if err := row.Scan(
		&record.ID, &record.Number, &record.LocationID, &record.ProcessedBy, &record.Reason,
		&record.TotalAmount, &status, &record.CreatedAt, &settledAt,
	); err != nil {
		return domain.ReturnRecord{}, err
	}
	record.Status = domain.RecordStatus(status)
	record.CreatedAt = record.CreatedAt.UTC()
	if settledAt.Valid {
		at := settledAt.Time.UTC()
		record.SettledAt = &at
	}
	return record, nil
}

func prefixed(alias string, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
