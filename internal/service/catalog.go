package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

// lookupSKU resolves a SKU to its variant and price tiers, going through the
// catalog cache. Cache failures degrade to a repository read.
func (s *Service) lookupSKU(ctx context.Context, sku string) (*domain.CatalogEntry, error) {
	sku = normalizeSKU(sku)
	if sku == "" {
		return nil, store.ErrInvalidTransaction
	}

	entry, hit, err := s.catalog.Get(ctx, sku)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"module": "service", "sku": sku}).WithError(err).Warn("catalog cache read failed")
	}
	if hit && entry != nil {
		return entry, nil
	}

	variant, err := s.repo.GetVariantBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	tiers, err := s.repo.ListPriceTiers(ctx, variant.ID)
	if err != nil {
		return nil, err
	}

	entry = &domain.CatalogEntry{Variant: *variant, Tiers: tiers}
	if err := s.catalog.Set(ctx, sku, entry, s.opts.CatalogTTL); err != nil {
		s.logger.WithFields(logrus.Fields{"module": "service", "sku": sku}).WithError(err).Warn("catalog cache write failed")
	}
	return entry, nil
}

func (s *Service) invalidateSKU(ctx context.Context, sku string) {
	if err := s.catalog.Invalidate(ctx, sku); err != nil {
		s.logger.WithFields(logrus.Fields{"module": "service", "sku": sku}).WithError(err).Warn("catalog cache invalidation failed")
	}
}

func (s *Service) UnitPrice(ctx context.Context, sku string, qty decimal.Decimal) (domain.PriceQuote, error) {
	if !qty.IsPositive() {
		return domain.PriceQuote{}, store.ErrInvalidAmount
	}
	entry, err := s.lookupSKU(ctx, sku)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	price := ResolveUnitPrice(entry.Variant.Price, entry.Tiers, qty)
	return domain.PriceQuote{
		SKU:       entry.Variant.SKU,
		VariantID: entry.Variant.ID,
		Qty:       qty,
		UnitPrice: price,
		Total:     roundMoney(price.Mul(qty)),
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductCreateResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(req.Variants) == 0 {
		return domain.ProductCreateResponse{}, store.ErrInvalidTransaction
	}

	product := domain.Product{
		ID:        xid.New("prod"),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	variants := make([]domain.Variant, 0, len(req.Variants))
	seen := make(map[string]struct{}, len(req.Variants))
	for _, in := range req.Variants {
		sku := normalizeSKU(in.SKU)
		variantName := strings.TrimSpace(in.Name)
		if sku == "" || variantName == "" {
			return domain.ProductCreateResponse{}, store.ErrInvalidTransaction
		}
		if _, dup := seen[sku]; dup {
			return domain.ProductCreateResponse{}, store.ErrInvalidTransaction
		}
		seen[sku] = struct{}{}
		if in.Price.IsNegative() || in.Cost.IsNegative() {
			return domain.ProductCreateResponse{}, store.ErrInvalidAmount
		}

		variant := domain.Variant{
			ID:        xid.New("var"),
			ProductID: product.ID,
			SKU:       sku,
			Name:      variantName,
			Price:     in.Price,
			Cost:      in.Cost,
			Active:    true,
		}
		if in.Default {
			if product.DefaultVariantID != "" {
				return domain.ProductCreateResponse{}, store.ErrInvalidTransaction
			}
			product.DefaultVariantID = variant.ID
		}
		variants = append(variants, variant)
	}
	if product.DefaultVariantID == "" {
		product.DefaultVariantID = variants[0].ID
	}

	if err := s.repo.CreateProduct(ctx, product, variants); err != nil {
		return domain.ProductCreateResponse{}, err
	}
	for _, v := range variants {
		s.invalidateSKU(ctx, v.SKU)
	}

	s.logAudit(ctx, "", "product_create", "product", product.ID, fmt.Sprintf("name=%s,variants=%d", product.Name, len(variants)))

	return domain.ProductCreateResponse{Product: product, Variants: variants}, nil
}

// SetPriceTiers replaces every tier of the variant. An empty list removes
// tiered pricing.
func (s *Service) SetPriceTiers(ctx context.Context, sku string, req domain.PriceTiersRequest) ([]domain.PriceTier, error) {
	sku = normalizeSKU(sku)
	if sku == "" {
		return nil, store.ErrInvalidTransaction
	}
	variant, err := s.repo.GetVariantBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	tiers := make([]domain.PriceTier, 0, len(req.Tiers))
	mins := make(map[string]struct{}, len(req.Tiers))
	for _, in := range req.Tiers {
		if !in.MinQuantity.IsPositive() || in.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidAmount
		}
		key := in.MinQuantity.String()
		if _, dup := mins[key]; dup {
			return nil, store.ErrInvalidTransaction
		}
		mins[key] = struct{}{}
		tiers = append(tiers, domain.PriceTier{
			VariantID:   variant.ID,
			Name:        strings.TrimSpace(in.Name),
			MinQuantity: in.MinQuantity,
			UnitPrice:   in.UnitPrice,
		})
	}

	if err := s.repo.ReplacePriceTiers(ctx, variant.ID, tiers); err != nil {
		return nil, err
	}
	s.invalidateSKU(ctx, sku)
	s.logAudit(ctx, "", "price_tiers_set", "variant", variant.ID, fmt.Sprintf("sku=%s,tiers=%d", sku, len(tiers)))

	return tiers, nil
}

func (s *Service) GetDefaultVariant(ctx context.Context, productID string) (domain.Variant, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Variant{}, err
	}
	if product.DefaultVariantID == "" {
		return domain.Variant{}, store.ErrNotFound
	}
	variant, err := s.repo.GetVariant(ctx, product.DefaultVariantID)
	if err != nil {
		return domain.Variant{}, err
	}
	return *variant, nil
}
