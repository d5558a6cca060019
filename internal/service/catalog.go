package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
)

// Categories

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	category, err := s.repo.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Category{}, err
	}
	return *category, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Category{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, invalid("name is required")
	}
	if err := ensureNameFree(ctx, s.categoryIDByName, name, "", "category"); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: name, IsActive: true})
	if err != nil {
		return domain.Category{}, err
	}
	s.log.Info(s.log.WithField(ctx, "category_id", created.ID), "category created")
	return *created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryRequest) (domain.Category, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Category{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Category{}, err
	}
	existing, err := s.repo.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, invalid("name is required")
	}
	if err := ensureNameFree(ctx, s.categoryIDByName, name, existing.ID, "category"); err != nil {
		return domain.Category{}, err
	}

	existing.Name = name
	updated, err := s.repo.UpdateCategory(ctx, *existing)
	if err != nil {
		return domain.Category{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := requireElevated(ctx); err != nil {
		return err
	}
	existing, err := s.repo.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.ensureCategoryUnused(ctx, existing.ID, "deleted"); err != nil {
		return err
	}
	return s.repo.DeleteCategory(ctx, existing.ID)
}

// SetCategoryActive toggles a category. Deactivation is refused while products use it.
func (s *Service) SetCategoryActive(ctx context.Context, id string, active bool) (domain.Category, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Category{}, err
	}
	existing, err := s.repo.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Category{}, err
	}
	if !active {
		if err := s.ensureCategoryUnused(ctx, existing.ID, "deactivated"); err != nil {
			return domain.Category{}, err
		}
	}
	existing.IsActive = active
	updated, err := s.repo.UpdateCategory(ctx, *existing)
	if err != nil {
		return domain.Category{}, err
	}
	return *updated, nil
}

func (s *Service) ensureCategoryUnused(ctx context.Context, id string, verb string) error {
	count, err := s.repo.CountProductsByCategory(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return store.Conflict("category cannot be %s: %d products use it", verb, count)
	}
	return nil
}

// Colors

func (s *Service) ListColors(ctx context.Context) ([]domain.Color, error) {
	return s.repo.ListColors(ctx)
}

func (s *Service) GetColor(ctx context.Context, id string) (domain.Color, error) {
	color, err := s.repo.GetColor(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Color{}, err
	}
	return *color, nil
}

func (s *Service) CreateColor(ctx context.Context, req domain.ColorRequest) (domain.Color, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Color{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Color{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Color{}, invalid("name is required")
	}
	if err := ensureNameFree(ctx, s.colorIDByName, name, "", "color"); err != nil {
		return domain.Color{}, err
	}

	created, err := s.repo.CreateColor(ctx, domain.Color{Name: name, Hex: strings.ToUpper(req.Hex), IsActive: true})
	if err != nil {
		return domain.Color{}, err
	}
	s.log.Info(s.log.WithField(ctx, "color_id", created.ID), "color created")
	return *created, nil
}

func (s *Service) UpdateColor(ctx context.Context, id string, req domain.ColorRequest) (domain.Color, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Color{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Color{}, err
	}
	existing, err := s.repo.GetColor(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Color{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Color{}, invalid("name is required")
	}
	if err := ensureNameFree(ctx, s.colorIDByName, name, existing.ID, "color"); err != nil {
		return domain.Color{}, err
	}

	existing.Name = name
	existing.Hex = strings.ToUpper(req.Hex)
	updated, err := s.repo.UpdateColor(ctx, *existing)
	if err != nil {
		return domain.Color{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteColor(ctx context.Context, id string) error {
	if _, err := requireElevated(ctx); err != nil {
		return err
	}
	existing, err := s.repo.GetColor(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.ensureColorUnused(ctx, existing.ID, "deleted"); err != nil {
		return err
	}
	return s.repo.DeleteColor(ctx, existing.ID)
}

// SetColorActive toggles a color. Deactivation is refused while any variant uses it.
func (s *Service) SetColorActive(ctx context.Context, id string, active bool) (domain.Color, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Color{}, err
	}
	existing, err := s.repo.GetColor(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Color{}, err
	}
	if !active {
		if err := s.ensureColorUnused(ctx, existing.ID, "deactivated"); err != nil {
			return domain.Color{}, err
		}
	}
	existing.IsActive = active
	updated, err := s.repo.UpdateColor(ctx, *existing)
	if err != nil {
		return domain.Color{}, err
	}
	return *updated, nil
}

func (s *Service) ensureColorUnused(ctx context.Context, id string, verb string) error {
	count, err := s.repo.CountProductsByColor(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return store.Conflict("color cannot be %s: %d products use it", verb, count)
	}
	return nil
}

// Products

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.FindProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, invalid("name is required")
	}
	if err := ensureNameFree(ctx, s.productIDByName, name, "", "product"); err != nil {
		return domain.Product{}, err
	}
	if _, err := s.repo.GetCategory(ctx, strings.TrimSpace(req.CategoryID)); err != nil {
		return domain.Product{}, err
	}
	variants, err := s.buildVariants(ctx, nil, req.Variants)
	if err != nil {
		return domain.Product{}, err
	}

	minStock := domain.DefaultMinStockAlert
	if req.MinStockAlert != nil {
		minStock = *req.MinStockAlert
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:          name,
		CategoryID:    strings.TrimSpace(req.CategoryID),
		Variants:      variants,
		MinStockAlert: minStock,
		IsActive:      true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"product_id": created.ID, "variants": len(created.Variants)}), "product created")
	return *created, nil
}

// UpdateProduct edits product fields and its variant set. Stock of existing
// variants is not touched here; use AdjustStock.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.FindProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing.Clone()
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("name must not be empty")
		}
		if err := ensureNameFree(ctx, s.productIDByName, name, existing.ID, "product"); err != nil {
			return domain.Product{}, err
		}
		updated.Name = name
	}
	if req.CategoryID != nil {
		categoryID := strings.TrimSpace(*req.CategoryID)
		if _, err := s.repo.GetCategory(ctx, categoryID); err != nil {
			return domain.Product{}, err
		}
		updated.CategoryID = categoryID
	}
	if req.MinStockAlert != nil {
		updated.MinStockAlert = *req.MinStockAlert
	}
	if req.Variants != nil {
		variants, err := s.buildVariants(ctx, existing, req.Variants)
		if err != nil {
			return domain.Product{}, err
		}
		updated.Variants = variants
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireElevated(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.log.Info(s.log.WithField(ctx, "product_id", id), "product deleted")
	return nil
}

func (s *Service) SetProductActive(ctx context.Context, id string, active bool) (domain.Product, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Product{}, err
	}
	saved, err := s.repo.SetProductActive(ctx, strings.TrimSpace(id), active)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// AdjustStock adds quantity (which may be negative) to the variant of the
// given color. The store refuses any result below zero.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Product, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.FindProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	variant, ok := product.VariantByColor(strings.TrimSpace(req.ColorID))
	if !ok {
		return domain.Product{}, store.NotFound("variant", req.ColorID)
	}

	updated, err := s.repo.AdjustVariantAmount(ctx, product.ID, variant.ID, req.Quantity)
	if err != nil {
		return domain.Product{}, err
	}
	s.metrics.StockAdjusted("manual")
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"product_id": product.ID,
		"variant_id": variant.ID,
		"delta":      req.Quantity,
	}), "variant stock adjusted")
	return *updated, nil
}

// LowStock lists active-product variants at or below their product's alert level, lowest first.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockEntry, error) {
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	out := make([]domain.LowStockEntry, 0)
	for _, p := range products {
		for _, v := range p.Variants {
			if v.Amount > p.MinStockAlert {
				continue
			}
			out = append(out, domain.LowStockEntry{
				ProductID:     p.ID,
				ProductName:   p.Name,
				VariantID:     v.ID,
				ColorID:       v.ColorID,
				Amount:        v.Amount,
				MinStockAlert: p.MinStockAlert,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount == out[j].Amount {
			return strings.ToLower(out[i].ProductName) < strings.ToLower(out[j].ProductName)
		}
		return out[i].Amount < out[j].Amount
	})
	return out, nil
}

// buildVariants checks variant inputs. Colors must exist and appear once per
// product; ids, when given, must belong to existing.
func (s *Service) buildVariants(ctx context.Context, existing *domain.Product, inputs []domain.VariantInput) ([]domain.Variant, error) {
	seenColors := make(map[string]struct{}, len(inputs))
	variants := make([]domain.Variant, 0, len(inputs))
	for i, in := range inputs {
		colorID := strings.TrimSpace(in.ColorID)
		if _, dup := seenColors[colorID]; dup {
			return nil, &ValidationError{Message: "duplicate color", Fields: map[string]string{fieldIndex("variants", i, "color"): "appears more than once"}}
		}
		seenColors[colorID] = struct{}{}

		if _, err := s.repo.GetColor(ctx, colorID); err != nil {
			return nil, err
		}
		if in.Amount < 0 {
			return nil, &ValidationError{Message: "invalid variant", Fields: map[string]string{fieldIndex("variants", i, "amount"): "must be at least 0"}}
		}
		if in.PriceCost.IsNegative() {
			return nil, &ValidationError{Message: "invalid variant", Fields: map[string]string{fieldIndex("variants", i, "priceCost"): "must be at least 0"}}
		}
		if in.PriceSell.IsNegative() {
			return nil, &ValidationError{Message: "invalid variant", Fields: map[string]string{fieldIndex("variants", i, "priceSell"): "must be at least 0"}}
		}

		id := strings.TrimSpace(in.ID)
		if id != "" {
			if existing == nil {
				return nil, invalid("variant ids are assigned by the server")
			}
			if _, ok := existing.Variant(id); !ok {
				return nil, store.NotFound("variant", id)
			}
		}
		variants = append(variants, domain.Variant{
			ID:        id,
			ColorID:   colorID,
			Amount:    in.Amount,
			PriceCost: in.PriceCost,
			PriceSell: in.PriceSell,
		})
	}
	return variants, nil
}

// ensureNameFree returns a Conflict when an entity other than selfID already
// uses name. Stores compare names case-insensitively.
func ensureNameFree(ctx context.Context, lookup func(context.Context, string) (string, error), name string, selfID string, entity string) error {
	foundID, err := lookup(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if selfID != "" && foundID == selfID {
		return nil
	}
	return store.Conflict("%s with this name already exists", entity)
}

func (s *Service) categoryIDByName(ctx context.Context, name string) (string, error) {
	c, err := s.repo.FindCategoryByName(ctx, name)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Service) colorIDByName(ctx context.Context, name string) (string, error) {
	c, err := s.repo.FindColorByName(ctx, name)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Service) productIDByName(ctx context.Context, name string) (string, error) {
	p, err := s.repo.FindProductByName(ctx, name)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func fieldIndex(collection string, i int, field string) string {
	return collection + "[" + strconv.Itoa(i) + "]." + field
}
