package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
)

// CreateSale checks every cart line against current stock, then decrements
// each variant and records the sale in one unit of work. Nothing is written
// when any line fails.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if err := Validate(req); err != nil {
		s.metrics.SaleRejected("validation")
		return domain.Sale{}, err
	}

	var created *domain.Sale
	err := s.repo.Atomically(ctx, func(tx store.Tx) error {
		if err := checkCart(ctx, tx, req.Items); err != nil {
			return err
		}

		sale := domain.Sale{
			Items:       make([]domain.SaleLineItem, 0, len(req.Items)),
			TotalAmount: decimal.Zero,
			TotalProfit: decimal.Zero,
			Comment:     strings.TrimSpace(req.Comment),
			CreatedAt:   s.now(),
		}
		for _, item := range req.Items {
			product, err := tx.AdjustVariantAmount(ctx, item.ProductID, item.VariantID, -item.Quantity)
			if err != nil {
				return err
			}
			variant, ok := product.Variant(item.VariantID)
			if !ok {
				return store.NotFound("variant", item.VariantID)
			}
			line := domain.SaleLineItem{
				ProductID:       product.ID,
				VariantID:       variant.ID,
				Name:            product.Name,
				Quantity:        item.Quantity,
				PriceAtSale:     variant.PriceSell,
				PriceCostAtSale: variant.PriceCost,
			}
			sale.Items = append(sale.Items, line)
			sale.TotalAmount = sale.TotalAmount.Add(line.Subtotal())
			sale.TotalProfit = sale.TotalProfit.Add(line.Profit())
		}

		appended, err := tx.AppendSale(ctx, sale)
		if err != nil {
			return err
		}
		created = appended
		return nil
	})
	if err != nil {
		s.metrics.SaleRejected(rejectionReason(err))
		return domain.Sale{}, err
	}

	s.invalidateReports(ctx)
	s.metrics.SaleCreated(created.TotalAmount.InexactFloat64())
	logCtx := s.log.WithFields(ctx, map[string]any{
		"sale_id": created.ID,
		"items":   len(created.Items),
		"total":   created.TotalAmount.String(),
	})
	s.log.Info(logCtx, "sale created")
	return *created, nil
}

// checkCart walks the cart in order and reports the first line that cannot be
// fulfilled. Lines naming the same variant are checked against their sum.
func checkCart(ctx context.Context, inv store.Inventory, items []domain.CartItem) error {
	type variantKey struct{ productID, variantID string }
	requested := make(map[variantKey]int, len(items))

	for _, item := range items {
		product, err := inv.FindProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		variant, ok := product.Variant(item.VariantID)
		if !ok {
			return store.NotFound("variant", item.VariantID)
		}

		key := variantKey{item.ProductID, item.VariantID}
		requested[key] += item.Quantity
		if requested[key] > variant.Amount {
			return &store.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				VariantID:   variant.ID,
				Available:   variant.Amount,
				Requested:   requested[key],
			}
		}
	}
	return nil
}

// DeleteSale removes a sale and puts each line's quantity back on its variant.
// Lines whose product or variant no longer exists are skipped.
func (s *Service) DeleteSale(ctx context.Context, id string) (domain.SaleDeleteResult, error) {
	if _, err := requireElevated(ctx); err != nil {
		return domain.SaleDeleteResult{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleDeleteResult{}, invalid("sale id is required")
	}

	var result domain.SaleDeleteResult
	err := s.repo.Atomically(ctx, func(tx store.Tx) error {
		result = domain.SaleDeleteResult{SaleID: id}

		removed, err := tx.RemoveSale(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range removed.Items {
			_, err := tx.AdjustVariantAmount(ctx, item.ProductID, item.VariantID, item.Quantity)
			if errors.Is(err, store.ErrNotFound) {
				result.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			result.Restored++
		}
		return nil
	})
	if err != nil {
		return domain.SaleDeleteResult{}, err
	}

	s.invalidateReports(ctx)
	s.metrics.SaleDeleted()
	logCtx := s.log.WithFields(ctx, map[string]any{
		"sale_id":  id,
		"restored": result.Restored,
		"skipped":  result.Skipped,
	})
	if result.Skipped > 0 {
		s.log.Warn(logCtx, "sale deleted; some lines referenced removed products")
	} else {
		s.log.Info(logCtx, "sale deleted")
	}
	return result, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, invalid("sale id is required")
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case store.IsNotFoundEntity(err, "product"):
		return "product_not_found"
	case store.IsNotFoundEntity(err, "variant"):
		return "variant_not_found"
	case errors.Is(err, store.ErrInvalidInput):
		return "validation"
	}
	return "storage"
}
