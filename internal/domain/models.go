package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money travels as JSON numbers, matching the shape clients already send.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin     = "admin"
	RoleSeller    = "seller"
	RoleDeveloper = "developer"
)

// IsElevatedRole reports whether role may perform catalog mutations and sale deletion.
func IsElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleDeveloper
}

func IsKnownRole(role string) bool {
	return role == RoleAdmin || role == RoleSeller || role == RoleDeveloper
}

const DefaultMinStockAlert = 5

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Color struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hex       string    `json:"hex,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Variant is one color option of a product with its own stock and prices.
type Variant struct {
	ID        string          `json:"id"`
	ColorID   string          `json:"color"`
	Amount    int             `json:"amount"`
	PriceCost decimal.Decimal `json:"priceCost"`
	PriceSell decimal.Decimal `json:"priceSell"`
}

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CategoryID    string    `json:"category"`
	Variants      []Variant `json:"variants"`
	MinStockAlert int       `json:"minStockAlert"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Variant returns the variant with the given id, if present.
func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantByColor returns the first variant using the given color.
func (p Product) VariantByColor(colorID string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ColorID == colorID {
			return v, true
		}
	}
	return Variant{}, false
}

// PotentialProfit is the margin locked in current stock: Σ (sell − cost) × amount.
func (p Product) PotentialProfit() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p.Variants {
		total = total.Add(v.PriceSell.Sub(v.PriceCost).Mul(decimal.NewFromInt(int64(v.Amount))))
	}
	return total
}

// Clone returns a copy that does not share the variants slice.
func (p Product) Clone() Product {
	out := p
	out.Variants = append([]Variant(nil), p.Variants...)
	return out
}

// ProductView is the API shape of a product, with its derived profit.
type ProductView struct {
	Product
	PotentialProfit decimal.Decimal `json:"potentialProfit"`
}

func NewProductView(p Product) ProductView {
	return ProductView{Product: p, PotentialProfit: p.PotentialProfit()}
}

// SaleLineItem is the immutable snapshot of one cart line taken when the sale was made.
type SaleLineItem struct {
	ProductID       string          `json:"productId"`
	VariantID       string          `json:"variantId"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	PriceAtSale     decimal.Decimal `json:"priceAtSale"`
	PriceCostAtSale decimal.Decimal `json:"priceCostAtSale"`
}

func (i SaleLineItem) Subtotal() decimal.Decimal {
	return i.PriceAtSale.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i SaleLineItem) Profit() decimal.Decimal {
	return i.PriceAtSale.Sub(i.PriceCostAtSale).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Sale struct {
	ID          string          `json:"id"`
	Items       []SaleLineItem  `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
	Comment     string          `json:"comment,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (s Sale) Clone() Sale {
	out := s
	out.Items = append([]SaleLineItem(nil), s.Items...)
	return out
}

// DateRange bounds a ledger query. Both ends are inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

type CartItem struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000000"`
}

type SaleCreateRequest struct {
	Items   []CartItem `json:"items" validate:"required,min=1,dive"`
	Comment string     `json:"comment,omitempty" validate:"max=500"`
}

type SaleDeleteResult struct {
	SaleID   string `json:"saleId"`
	Restored int    `json:"restoredItems"`
	Skipped  int    `json:"skippedItems"`
}

type SalesReport struct {
	Sales        []Sale          `json:"sales"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	TotalProfit  decimal.Decimal `json:"totalProfit"`
	Count        int             `json:"count"`
}

type CategoryRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type ColorRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Hex  string `json:"hex,omitempty" validate:"omitempty,hexcolor"`
}

type VariantInput struct {
	ID        string          `json:"id,omitempty"`
	ColorID   string          `json:"color" validate:"required"`
	Amount    int             `json:"amount" validate:"min=0,max=1000000000"`
	PriceCost decimal.Decimal `json:"priceCost"`
	PriceSell decimal.Decimal `json:"priceSell"`
}

type ProductCreateRequest struct {
	Name          string         `json:"name" validate:"required,max=200"`
	CategoryID    string         `json:"category" validate:"required"`
	MinStockAlert *int           `json:"minStockAlert,omitempty" validate:"omitempty,min=0"`
	Variants      []VariantInput `json:"variants" validate:"dive"`
}

type ProductUpdateRequest struct {
	Name          *string        `json:"name,omitempty" validate:"omitempty,max=200"`
	CategoryID    *string        `json:"category,omitempty"`
	MinStockAlert *int           `json:"minStockAlert,omitempty" validate:"omitempty,min=0"`
	Variants      []VariantInput `json:"variants,omitempty" validate:"omitempty,dive"`
}

type StockAdjustRequest struct {
	ColorID  string `json:"color" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=-1000000,max=1000000"`
}

type ProductFilter struct {
	NameContains string
	ActiveOnly   bool
}

type LowStockEntry struct {
	ProductID     string `json:"productId"`
	ProductName   string `json:"productName"`
	VariantID     string `json:"variantId"`
	ColorID       string `json:"color"`
	Amount        int    `json:"amount"`
	MinStockAlert int    `json:"minStockAlert"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NormalizeEmail lower-cases and trims an address the way accounts are keyed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	User      User   `json:"user"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	UserID string
	Role   string
}
