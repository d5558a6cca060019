package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
	"colorstock/backend/internal/xid"
)

// Store keeps everything in maps behind one RWMutex. Atomically holds the
// write lock for the whole callback and undoes its changes on error.
type Store struct {
	mu         sync.RWMutex
	categories map[string]domain.Category
	colors     map[string]domain.Color
	products   map[string]domain.Product
	sales      map[string]domain.Sale
	users      map[string]domain.User
	now        func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		categories: make(map[string]domain.Category),
		colors:     make(map[string]domain.Color),
		products:   make(map[string]domain.Product),
		sales:      make(map[string]domain.Sale),
		users:      make(map[string]domain.User),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with a small demo catalog for local runs.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	shirts, _ := s.CreateCategory(ctx, domain.Category{Name: "Camisetas", IsActive: true})
	mugs, _ := s.CreateCategory(ctx, domain.Category{Name: "Tazas", IsActive: true})
	black, _ := s.CreateColor(ctx, domain.Color{Name: "Negro", Hex: "#000000", IsActive: true})
	white, _ := s.CreateColor(ctx, domain.Color{Name: "Blanco", Hex: "#FFFFFF", IsActive: true})
	red, _ := s.CreateColor(ctx, domain.Color{Name: "Rojo", Hex: "#C62828", IsActive: true})

	seed := []domain.Product{
		{
			Name:       "Camiseta Basica",
			CategoryID: shirts.ID,
			Variants: []domain.Variant{
				{ColorID: black.ID, Amount: 40, PriceCost: decimal.NewFromInt(5), PriceSell: decimal.NewFromInt(12)},
				{ColorID: white.ID, Amount: 25, PriceCost: decimal.NewFromInt(5), PriceSell: decimal.NewFromInt(12)},
			},
		},
		{
			Name:       "Taza Ceramica",
			CategoryID: mugs.ID,
			Variants: []domain.Variant{
				{ColorID: white.ID, Amount: 18, PriceCost: decimal.RequireFromString("2.50"), PriceSell: decimal.NewFromInt(7)},
				{ColorID: red.ID, Amount: 4, PriceCost: decimal.RequireFromString("2.75"), PriceSell: decimal.RequireFromString("7.50")},
			},
		},
	}
	for _, p := range seed {
		p.MinStockAlert = domain.DefaultMinStockAlert
		p.IsActive = true
		_, _ = s.CreateProduct(ctx, p)
	}
	return s
}

// SetClock overrides the time source; tests use it to control createdAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Atomically(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txView{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type txView struct {
	s    *Store
	undo []func()
}

func (t *txView) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txView) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	return t.s.findProduct(id)
}

func (t *txView) AdjustVariantAmount(_ context.Context, productID string, variantID string, delta int) (*domain.Product, error) {
	updated, err := t.s.adjustVariant(productID, variantID, delta)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() {
		_, _ = t.s.adjustVariant(productID, variantID, -delta)
	})
	return updated, nil
}

func (t *txView) AppendSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	created, err := t.s.appendSale(sale)
	if err != nil {
		return nil, err
	}
	id := created.ID
	t.undo = append(t.undo, func() { delete(t.s.sales, id) })
	return created, nil
}

func (t *txView) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	return t.s.getSale(id)
}

func (t *txView) RemoveSale(_ context.Context, id string) (*domain.Sale, error) {
	removed, err := t.s.removeSale(id)
	if err != nil {
		return nil, err
	}
	restore := removed.Clone()
	t.undo = append(t.undo, func() { t.s.sales[restore.ID] = restore })
	return removed, nil
}

func (t *txView) QuerySales(_ context.Context, window *domain.DateRange) ([]domain.Sale, error) {
	return t.s.querySales(window), nil
}

// Inventory

func (s *Store) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findProduct(id)
}

func (s *Store) AdjustVariantAmount(_ context.Context, productID string, variantID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustVariant(productID, variantID, delta)
}

func (s *Store) findProduct(id string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	out := p.Clone()
	return &out, nil
}

func (s *Store) adjustVariant(productID string, variantID string, delta int) (*domain.Product, error) {
	p, ok := s.products[productID]
	if !ok {
		return nil, store.NotFound("product", productID)
	}
	idx := -1
	for i, v := range p.Variants {
		if v.ID == variantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.NotFound("variant", variantID)
	}
	current := p.Variants[idx].Amount
	if current+delta < 0 {
		return nil, &store.StockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			VariantID:   variantID,
			Available:   current,
			Requested:   -delta,
		}
	}

	updated := p.Clone()
	updated.Variants[idx].Amount = current + delta
	updated.UpdatedAt = s.now()
	s.products[productID] = updated

	out := updated.Clone()
	return &out, nil
}

// Ledger

func (s *Store) AppendSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendSale(sale)
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSale(id)
}

func (s *Store) RemoveSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeSale(id)
}

func (s *Store) QuerySales(_ context.Context, window *domain.DateRange) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySales(window), nil
}

func (s *Store) appendSale(sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.Conflict("sale %s already exists", sale.ID)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}
	stored := sale.Clone()
	s.sales[sale.ID] = stored
	out := stored.Clone()
	return &out, nil
}

func (s *Store) getSale(id string) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	out := sale.Clone()
	return &out, nil
}

func (s *Store) removeSale(id string) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	delete(s.sales, id)
	out := sale.Clone()
	return &out, nil
}

func (s *Store) querySales(window *domain.DateRange) []domain.Sale {
	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if window != nil && !window.Contains(sale.CreatedAt) {
			continue
		}
		out = append(out, sale.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Categories

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.Conflict("category with this name already exists")
		}
	}
	if category.ID == "" {
		category.ID = xid.New()
	}
	now := s.now()
	category.CreatedAt, category.UpdatedAt = now, now
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, store.NotFound("category", id)
	}
	return &c, nil
}

func (s *Store) FindCategoryByName(_ context.Context, name string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			out := c
			return &out, nil
		}
	}
	return nil, store.NotFound("category", name)
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.categories[category.ID]
	if !ok {
		return nil, store.NotFound("category", category.ID)
	}
	for id, other := range s.categories {
		if id != category.ID && strings.EqualFold(other.Name, category.Name) {
			return nil, store.Conflict("category with this name already exists")
		}
	}
	category.CreatedAt = existing.CreatedAt
	category.UpdatedAt = s.now()
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return store.NotFound("category", id)
	}
	delete(s.categories, id)
	return nil
}

// Colors

func (s *Store) CreateColor(_ context.Context, color domain.Color) (*domain.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	color.Name = strings.TrimSpace(color.Name)
	if color.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.colors {
		if strings.EqualFold(existing.Name, color.Name) {
			return nil, store.Conflict("color with this name already exists")
		}
	}
	if color.ID == "" {
		color.ID = xid.New()
	}
	now := s.now()
	color.CreatedAt, color.UpdatedAt = now, now
	s.colors[color.ID] = color
	return &color, nil
}

func (s *Store) ListColors(_ context.Context) ([]domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Color, 0, len(s.colors))
	for _, c := range s.colors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) GetColor(_ context.Context, id string) (*domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colors[id]
	if !ok {
		return nil, store.NotFound("color", id)
	}
	return &c, nil
}

func (s *Store) FindColorByName(_ context.Context, name string) (*domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.colors {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			out := c
			return &out, nil
		}
	}
	return nil, store.NotFound("color", name)
}

func (s *Store) UpdateColor(_ context.Context, color domain.Color) (*domain.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.colors[color.ID]
	if !ok {
		return nil, store.NotFound("color", color.ID)
	}
	for id, other := range s.colors {
		if id != color.ID && strings.EqualFold(other.Name, color.Name) {
			return nil, store.Conflict("color with this name already exists")
		}
	}
	color.CreatedAt = existing.CreatedAt
	color.UpdatedAt = s.now()
	s.colors[color.ID] = color
	return &color, nil
}

func (s *Store) DeleteColor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colors[id]; !ok {
		return store.NotFound("color", id)
	}
	delete(s.colors, id)
	return nil
}

// Products

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.CategoryID == "" {
		return nil, store.ErrInvalidInput
	}
	if s.productNameTaken(product.Name, "") {
		return nil, store.Conflict("product with this name already exists")
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
	now := s.now()
	product.CreatedAt, product.UpdatedAt = now, now
	s.products[product.ID] = product

	out := product.Clone()
	return &out, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.NameContains))
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			out := p.Clone()
			return &out, nil
		}
	}
	return nil, store.NotFound("product", name)
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.NotFound("product", product.ID)
	}
	if s.productNameTaken(product.Name, product.ID) {
		return nil, store.Conflict("product with this name already exists")
	}
	product = product.Clone()
	for i := range product.Variants {
		if product.Variants[i].ID == "" {
			product.Variants[i].ID = xid.New()
		}
		// Stock of a kept variant only moves through AdjustVariantAmount.
		if stored, ok := existing.Variant(product.Variants[i].ID); ok {
			product.Variants[i].Amount = stored.Amount
		}
		if product.Variants[i].Amount < 0 {
			return nil, store.ErrInvalidInput
		}
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.now()
	s.products[product.ID] = product

	out := product.Clone()
	return &out, nil
}

func (s *Store) SetProductActive(_ context.Context, id string, active bool) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	product.IsActive = active
	product.UpdatedAt = s.now()
	s.products[id] = product

	out := product.Clone()
	return &out, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.NotFound("product", id)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) CountProductsByCategory(_ context.Context, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.products {
		if p.CategoryID == categoryID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountProductsByColor(_ context.Context, colorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.products {
		if _, ok := p.VariantByColor(colorID); ok {
			count++
		}
	}
	return count, nil
}

func (s *Store) productNameTaken(name string, exceptID string) bool {
	for id, p := range s.products {
		if id != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// Users

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = domain.NormalizeEmail(user.Email)
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return nil, store.Conflict("user already exists")
		}
	}
	if user.ID == "" {
		user.ID = xid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = domain.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, store.NotFound("user", email)
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.NotFound("user", id)
	}
	return &u, nil
}
