package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
	"colorstock/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
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

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Atomically(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&txView{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txView runs inventory and ledger operations on a single querier.
type txView struct {
	q querier
}

func (s *Store) view() *txView {
	return &txView{q: s.db}
}

// Inventory

func (s *Store) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.view().FindProduct(ctx, id)
}

func (s *Store) AdjustVariantAmount(ctx context.Context, productID string, variantID string, delta int) (*domain.Product, error) {
	return s.view().AdjustVariantAmount(ctx, productID, variantID, delta)
}

func (t *txView) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	return loadProduct(ctx, t.q, id)
}

func (t *txView) AdjustVariantAmount(ctx context.Context, productID string, variantID string, delta int) (*domain.Product, error) {
	if !xid.Valid(productID) {
		return nil, store.NotFound("product", productID)
	}
	if !xid.Valid(variantID) {
		return nil, store.NotFound("variant", variantID)
	}

	var amount int
	err := t.q.QueryRowContext(ctx, `
		UPDATE product_variants
		SET amount = amount + $3
		WHERE product_id = $1 AND id = $2 AND amount + $3 >= 0
		RETURNING amount
	`, productID, variantID, delta).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, t.explainRejectedAdjust(ctx, productID, variantID, delta)
	}
	if err != nil {
		return nil, fmt.Errorf("adjust variant amount: %w", err)
	}

	if _, err := t.q.ExecContext(ctx, `UPDATE products SET updated_at = now() WHERE id = $1`, productID); err != nil {
		return nil, fmt.Errorf("touch product: %w", err)
	}
	return loadProduct(ctx, t.q, productID)
}

// explainRejectedAdjust tells a missing row apart from a stock shortfall after
// the conditional update matched nothing.
func (t *txView) explainRejectedAdjust(ctx context.Context, productID string, variantID string, delta int) error {
	product, err := loadProduct(ctx, t.q, productID)
	if err != nil {
		return err
	}
	variant, ok := product.Variant(variantID)
	if !ok {
		return store.NotFound("variant", variantID)
	}
	return &store.StockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		VariantID:   variantID,
		Available:   variant.Amount,
		Requested:   -delta,
	}
}

// Ledger

func (s *Store) AppendSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	return s.view().AppendSale(ctx, sale)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.view().GetSale(ctx, id)
}

func (s *Store) RemoveSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.view().RemoveSale(ctx, id)
}

func (s *Store) QuerySales(ctx context.Context, window *domain.DateRange) ([]domain.Sale, error) {
	return s.view().QuerySales(ctx, window)
}

const saleColumns = `id, items, total_amount, total_profit, comment, created_at`

func (t *txView) AppendSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, fmt.Errorf("encode sale items: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO sales (id, items, total_amount, total_profit, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sale.ID, items, sale.TotalAmount, sale.TotalProfit, sale.Comment, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Conflict("sale %s already exists", sale.ID)
		}
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	created := sale.Clone()
	return &created, nil
}

func (t *txView) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("sale", id)
	}
	row := t.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("sale", id)
	}
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (t *txView) RemoveSale(ctx context.Context, id string) (*domain.Sale, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("sale", id)
	}
	row := t.q.QueryRowContext(ctx, `DELETE FROM sales WHERE id = $1 RETURNING `+saleColumns, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("sale", id)
	}
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (t *txView) QuerySales(ctx context.Context, window *domain.DateRange) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
	args := []any{}
	if window != nil {
		query += ` WHERE created_at >= $1 AND created_at <= $2`
		args = append(args, window.From, window.To)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var items []byte
	if err := row.Scan(&sale.ID, &items, &sale.TotalAmount, &sale.TotalProfit, &sale.Comment, &sale.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

// Products

const productColumns = `id, name, category_id, min_stock_alert, is_active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.MinStockAlert, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.Variants = []domain.Variant{}
	return &p, nil
}

func loadProduct(ctx context.Context, q querier, id string) (*domain.Product, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("product", id)
	}
	product, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	variants, err := loadVariants(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	product.Variants = append(product.Variants, variants[id]...)
	return product, nil
}

func loadVariants(ctx context.Context, q querier, productIDs []string) (map[string][]domain.Variant, error) {
	out := make(map[string][]domain.Variant, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, id, color_id, amount, price_cost, price_sell
		FROM product_variants
		WHERE product_id = ANY($1::uuid[])
		ORDER BY product_id, position, id
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var v domain.Variant
		if err := rows.Scan(&productID, &v.ID, &v.ColorID, &v.Amount, &v.PriceCost, &v.PriceSell); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || !xid.Valid(product.CategoryID) {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New()
	}
	product = product.Clone()
	for i := range product.Variants {
		if product.Variants[i].ID == "" {
			product.Variants[i].ID = xid.New()
		}
		if product.Variants[i].Amount < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, category_id, min_stock_alert, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, product.ID, product.Name, product.CategoryID, product.MinStockAlert, product.IsActive)
	if err != nil {
		return nil, translateWriteError(err, "product with this name already exists")
	}
	if err := writeVariants(ctx, tx, product.ID, product.Variants); err != nil {
		return nil, err
	}

	created, err := loadProduct(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE true`
	args := []any{}
	if filter.ActiveOnly {
		query += ` AND is_active = true`
	}
	if needle := strings.TrimSpace(filter.NameContains); needle != "" {
		args = append(args, "%"+escapeLike(needle)+"%")
		query += fmt.Sprintf(` AND name ILIKE $%d`, len(args))
	}
	query += ` ORDER BY lower(name)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variants, err := loadVariants(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = append(products[i].Variants, variants[products[i].ID]...)
	}
	return products, nil
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM products WHERE lower(name) = lower($1)`, strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("product", name)
	}
	if err != nil {
		return nil, err
	}
	return loadProduct(ctx, s.db, id)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !xid.Valid(product.ID) {
		return nil, store.NotFound("product", product.ID)
	}
	if strings.TrimSpace(product.Name) == "" || !xid.Valid(product.CategoryID) {
		return nil, store.ErrInvalidInput
	}
	product = product.Clone()
	for i := range product.Variants {
		if product.Variants[i].ID == "" {
			product.Variants[i].ID = xid.New()
		}
		if product.Variants[i].Amount < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, min_stock_alert = $4, is_active = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, strings.TrimSpace(product.Name), product.CategoryID, product.MinStockAlert, product.IsActive)
	if err != nil {
		return nil, translateWriteError(err, "product with this name already exists")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.NotFound("product", product.ID)
	}

	keep := make([]string, 0, len(product.Variants))
	for _, v := range product.Variants {
		keep = append(keep, v.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM product_variants
		WHERE product_id = $1 AND NOT (id = ANY($2::uuid[]))
	`, product.ID, keep); err != nil {
		return nil, fmt.Errorf("prune variants: %w", err)
	}
	if err := writeVariants(ctx, tx, product.ID, product.Variants); err != nil {
		return nil, err
	}

	updated, err := loadProduct(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func writeVariants(ctx context.Context, q querier, productID string, variants []domain.Variant) error {
	for position, v := range variants {
		if !xid.Valid(v.ColorID) {
			return store.NotFound("color", v.ColorID)
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO product_variants (id, product_id, position, color_id, amount, price_cost, price_sell)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET position = EXCLUDED.position,
				color_id = EXCLUDED.color_id,
				price_cost = EXCLUDED.price_cost,
				price_sell = EXCLUDED.price_sell
			WHERE product_variants.product_id = EXCLUDED.product_id
		`, v.ID, productID, position, v.ColorID, v.Amount, v.PriceCost, v.PriceSell)
		if err != nil {
			return translateWriteError(err, "variant conflicts with an existing one")
		}
	}
	return nil
}

// SetProductActive flips is_active only; variant rows are left alone.
func (s *Store) SetProductActive(ctx context.Context, id string, active bool) (*domain.Product, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("product", id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET is_active = $2, updated_at = now() WHERE id = $1
	`, id, active)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res, "product", id); err != nil {
		return nil, err
	}
	return loadProduct(ctx, s.db, id)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	if !xid.Valid(id) {
		return store.NotFound("product", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "product", id)
}

func (s *Store) CountProductsByCategory(ctx context.Context, categoryID string) (int, error) {
	if !xid.Valid(categoryID) {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM products WHERE category_id = $1`, categoryID).Scan(&count)
	return count, err
}

func (s *Store) CountProductsByColor(ctx context.Context, colorID string) (int, error) {
	if !xid.Valid(colorID) {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(DISTINCT product_id) FROM product_variants WHERE color_id = $1
	`, colorID).Scan(&count)
	return count, err
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if category.ID == "" {
		category.ID = xid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, category.ID, category.Name, category.IsActive).Scan(&category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		return nil, translateWriteError(err, "category with this name already exists")
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_active, created_at, updated_at FROM categories ORDER BY lower(name)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("category", id)
	}
	return s.scanCategory(ctx, id, `SELECT id, name, is_active, created_at, updated_at FROM categories WHERE id = $1`, id)
}

func (s *Store) FindCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	return s.scanCategory(ctx, name, `
		SELECT id, name, is_active, created_at, updated_at FROM categories WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name))
}

func (s *Store) scanCategory(ctx context.Context, key string, query string, args ...any) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("category", key)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if !xid.Valid(category.ID) {
		return nil, store.NotFound("category", category.ID)
	}
	err := s.db.QueryRowContext(ctx, `
		UPDATE categories SET name = $2, is_active = $3, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, category.ID, strings.TrimSpace(category.Name), category.IsActive).Scan(&category.CreatedAt, &category.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("category", category.ID)
	}
	if err != nil {
		return nil, translateWriteError(err, "category with this name already exists")
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	if !xid.Valid(id) {
		return store.NotFound("category", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return translateWriteError(err, "category is used by products")
	}
	return requireAffected(res, "category", id)
}

// Colors

func (s *Store) CreateColor(ctx context.Context, color domain.Color) (*domain.Color, error) {
	color.Name = strings.TrimSpace(color.Name)
	if color.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if color.ID == "" {
		color.ID = xid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO colors (id, name, hex, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, color.ID, color.Name, color.Hex, color.IsActive).Scan(&color.CreatedAt, &color.UpdatedAt)
	if err != nil {
		return nil, translateWriteError(err, "color with this name already exists")
	}
	return &color, nil
}

func (s *Store) ListColors(ctx context.Context) ([]domain.Color, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hex, is_active, created_at, updated_at FROM colors ORDER BY lower(name)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Color, 0, 32)
	for rows.Next() {
		var c domain.Color
		if err := rows.Scan(&c.ID, &c.Name, &c.Hex, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetColor(ctx context.Context, id string) (*domain.Color, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("color", id)
	}
	return s.scanColor(ctx, id, `SELECT id, name, hex, is_active, created_at, updated_at FROM colors WHERE id = $1`, id)
}

func (s *Store) FindColorByName(ctx context.Context, name string) (*domain.Color, error) {
	return s.scanColor(ctx, name, `
		SELECT id, name, hex, is_active, created_at, updated_at FROM colors WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name))
}

func (s *Store) scanColor(ctx context.Context, key string, query string, args ...any) (*domain.Color, error) {
	var c domain.Color
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Hex, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("color", key)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateColor(ctx context.Context, color domain.Color) (*domain.Color, error) {
	if !xid.Valid(color.ID) {
		return nil, store.NotFound("color", color.ID)
	}
	err := s.db.QueryRowContext(ctx, `
		UPDATE colors SET name = $2, hex = $3, is_active = $4, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, color.ID, strings.TrimSpace(color.Name), color.Hex, color.IsActive).Scan(&color.CreatedAt, &color.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("color", color.ID)
	}
	if err != nil {
		return nil, translateWriteError(err, "color with this name already exists")
	}
	return &color, nil
}

func (s *Store) DeleteColor(ctx context.Context, id string) error {
	if !xid.Valid(id) {
		return store.NotFound("color", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM colors WHERE id = $1`, id)
	if err != nil {
		return translateWriteError(err, "color is used by product variants")
	}
	return requireAffected(res, "color", id)
}

// Users

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Email = domain.NormalizeEmail(user.Email)
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt)
	if err != nil {
		return nil, translateWriteError(err, "user already exists")
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	return s.scanUser(ctx, email, `
		SELECT id, name, email, password_hash, role, is_active, created_at FROM users WHERE email = $1
	`, email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if !xid.Valid(id) {
		return nil, store.NotFound("user", id)
	}
	return s.scanUser(ctx, id, `
		SELECT id, name, email, password_hash, role, is_active, created_at FROM users WHERE id = $1
	`, id)
}

func (s *Store) scanUser(ctx context.Context, key string, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("user", key)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func requireAffected(res sql.Result, entity string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound(entity, id)
	}
	return nil
}

// translateWriteError maps constraint violations onto store errors and leaves
// everything else as a storage failure.
func translateWriteError(err error, uniqueReason string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return store.Conflict("%s", uniqueReason)
	case "23503":
		return store.Conflict("referenced entity is missing or still in use")
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}
