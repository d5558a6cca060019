package store

import (
	"context"
	"errors"
	"fmt"

	"colorstock/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
)

// NotFoundError names the missing entity. It matches ErrNotFound under errors.Is.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFoundEntity reports whether err is a NotFoundError for entity.
func IsNotFoundEntity(err error, entity string) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Entity == entity
}

// StockError carries what an operator needs to diagnose a rejected stock movement.
type StockError struct {
	ProductID   string
	ProductName string
	VariantID   string
	Available   int
	Requested   int
}

func (e *StockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s (%d available)", name, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// ConflictError is a business-rule violation such as a duplicate name or a
// referenced entity that cannot be removed.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

func Conflict(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// Inventory is the stock-side contract the sale processor depends on.
type Inventory interface {
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	// AdjustVariantAmount adds delta to one variant's amount as a single
	// conditional update. It returns a *StockError when the result would be
	// negative and a NotFoundError when the product or variant is missing.
	AdjustVariantAmount(ctx context.Context, productID string, variantID string, delta int) (*domain.Product, error)
}

// Ledger holds immutable sale records.
type Ledger interface {
	AppendSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	RemoveSale(ctx context.Context, id string) (*domain.Sale, error)
	// QuerySales returns sales newest first; a nil window returns everything.
	QuerySales(ctx context.Context, window *domain.DateRange) ([]domain.Sale, error)
}

// Tx is the view of the repository available inside Atomically.
type Tx interface {
	Inventory
	Ledger
}

type Catalog interface {
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	FindCategoryByName(ctx context.Context, name string) (*domain.Category, error)

	CreateColor(ctx context.Context, color domain.Color) (*domain.Color, error)
	ListColors(ctx context.Context) ([]domain.Color, error)
	GetColor(ctx context.Context, id string) (*domain.Color, error)
	UpdateColor(ctx context.Context, color domain.Color) (*domain.Color, error)
	DeleteColor(ctx context.Context, id string) error
	FindColorByName(ctx context.Context, name string) (*domain.Color, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	// UpdateProduct rewrites product fields and the variant set. Amounts of
	// variants that already exist are kept as stored; only new variants take
	// the given amount.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetProductActive(ctx context.Context, id string, active bool) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	CountProductsByCategory(ctx context.Context, categoryID string) (int, error)
	CountProductsByColor(ctx context.Context, colorID string) (int, error)
}

type Users interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

type Repository interface {
	Inventory
	Ledger
	Catalog
	Users
	// Atomically runs fn in one transaction; any error returned by fn rolls
	// back every inventory and ledger change fn made.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}
