package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/shared"
)

// Publisher emits committed events.
type Publisher interface {
	Publish(ctx context.Context, evts ...events.Event)
}

// ViewCache is the read-through cache used for listings.
type ViewCache interface {
	Fetch(ctx context.Context, tenantID int64, scope events.Scope, params []string, dest any, loader cache.Loader) error
}

// Service coordinates catalog operations.
type Service struct {
	repo   RepositoryPort
	bus    Publisher
	cache  ViewCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. bus and cache may be nil.
func NewService(repo RepositoryPort, bus Publisher, viewCache ViewCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		bus:    bus,
		cache:  viewCache,
		logger: logger.With(slog.String("component", "catalog")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// dirtyScopes lists the views a catalog change can affect.
var dirtyScopes = []events.Scope{events.ScopeProductCatalog, events.ScopeTenantInventory, events.ScopeReports}

// CreateProduct inserts a product, reviving a soft-deleted row with the same SKU.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.TenantID <= 0 {
		return Product{}, shared.Validationf("tenant required")
	}
	if input.SKU == "" || input.Name == "" {
		return Product{}, shared.Validationf("sku and name required")
	}
	if input.SellingPrice.IsNegative() {
		return Product{}, shared.Validationf("selling price must not be negative")
	}

	var changed ProductChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		existing, err := tx.ProductBySKU(ctx, input.TenantID, input.SKU)
		switch {
		case err == nil && !existing.Deleted:
			return fmt.Errorf("%w: product %q", shared.ErrAlreadyExists, input.SKU)
		case err == nil:
			before := existing
			existing.Name = input.Name
			existing.SellingPrice = input.SellingPrice
			existing.Deleted = false
			existing.DeletedAt = nil
			existing.UpdatedAt = now
			updated, err := tx.UpdateProduct(ctx, existing)
			if err != nil {
				return err
			}
			changed = ProductChanged{Action: ActionProductRevived, Before: &before, After: updated}
			return nil
		case errors.Is(err, shared.ErrNotFound):
			inserted, err := tx.InsertProduct(ctx, Product{
				TenantID:     input.TenantID,
				SKU:          input.SKU,
				Name:         input.Name,
				SellingPrice: input.SellingPrice,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if err != nil {
				return err
			}
			changed = ProductChanged{Action: ActionProductCreated, After: inserted}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	s.publish(ctx, input.TenantID, events.TypeProductChanged, changed)
	return changed.After, nil
}

// UpdateProduct applies the allow-listed fields of update.
func (s *Service) UpdateProduct(ctx context.Context, tenantID int64, sku string, update ProductUpdate) (Product, error) {
	if update.Name == nil && update.SellingPrice == nil {
		return Product{}, shared.Validationf("no updatable fields supplied")
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return Product{}, shared.Validationf("name must not be empty")
	}
	if update.SellingPrice != nil && update.SellingPrice.IsNegative() {
		return Product{}, shared.Validationf("selling price must not be negative")
	}

	var changed ProductChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := s.liveProduct(ctx, tx, tenantID, sku)
		if err != nil {
			return err
		}
		before := product
		if update.Name != nil {
			product.Name = strings.TrimSpace(*update.Name)
		}
		if update.SellingPrice != nil {
			product.SellingPrice = *update.SellingPrice
		}
		product.UpdatedAt = s.now()
		updated, err := tx.UpdateProduct(ctx, product)
		if err != nil {
			return err
		}
		changed = ProductChanged{Action: ActionProductUpdated, Before: &before, After: updated}
		return nil
	})
	if err != nil {
		return Product{}, fmt.Errorf("catalog: update product: %w", err)
	}
	s.publish(ctx, tenantID, events.TypeProductChanged, changed)
	return changed.After, nil
}

// DeleteProduct soft-deletes a product. Its lots and ledgers are kept.
func (s *Service) DeleteProduct(ctx context.Context, tenantID int64, sku string) error {
	var changed ProductChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := s.liveProduct(ctx, tx, tenantID, sku)
		if err != nil {
			return err
		}
		before := product
		now := s.now()
		product.Deleted = true
		product.DeletedAt = &now
		product.UpdatedAt = now
		updated, err := tx.UpdateProduct(ctx, product)
		if err != nil {
			return err
		}
		changed = ProductChanged{Action: ActionProductRemoved, Before: &before, After: updated}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: delete product: %w", err)
	}
	s.publish(ctx, tenantID, events.TypeProductChanged, changed)
	return nil
}

// ListProducts returns live products, read through the product-catalog cache.
func (s *Service) ListProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	if tenantID <= 0 {
		return nil, shared.Validationf("tenant required")
	}
	if s.cache == nil {
		return s.repo.ListProducts(ctx, tenantID)
	}
	loader := func(ctx context.Context) (any, error) {
		return s.repo.ListProducts(ctx, tenantID)
	}
	var products []Product
	if err := s.cache.Fetch(ctx, tenantID, events.ScopeProductCatalog, []string{"products"}, &products, loader); err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	return products, nil
}

// CreateSupplier inserts a supplier, reviving a soft-deleted one with the same contact.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (Supplier, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Contact = strings.TrimSpace(input.Contact)
	input.Address = strings.TrimSpace(input.Address)
	if input.TenantID <= 0 {
		return Supplier{}, shared.Validationf("tenant required")
	}
	if input.Name == "" || input.Contact == "" {
		return Supplier{}, shared.Validationf("name and contact required")
	}

	var changed SupplierChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.SupplierByContact(ctx, input.TenantID, input.Contact)
		switch {
		case err == nil && !existing.Deleted:
			return fmt.Errorf("%w: supplier with contact %q", shared.ErrAlreadyExists, input.Contact)
		case err == nil:
			before := existing
			existing.Name = input.Name
			existing.Address = input.Address
			existing.Deleted = false
			existing.DeletedAt = nil
			updated, err := tx.UpdateSupplier(ctx, existing)
			if err != nil {
				return err
			}
			changed = SupplierChanged{Action: ActionSupplierRevived, Before: &before, After: updated}
			return nil
		case errors.Is(err, shared.ErrNotFound):
			inserted, err := tx.InsertSupplier(ctx, Supplier{
				TenantID:  input.TenantID,
				Name:      input.Name,
				Contact:   input.Contact,
				Address:   input.Address,
				CreatedAt: s.now(),
			})
			if err != nil {
				return err
			}
			changed = SupplierChanged{Action: ActionSupplierCreated, After: inserted}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return Supplier{}, fmt.Errorf("catalog: create supplier: %w", err)
	}
	s.publish(ctx, input.TenantID, events.TypeSupplierChanged, changed)
	return changed.After, nil
}

// DeleteSupplier soft-deletes a supplier.
func (s *Service) DeleteSupplier(ctx context.Context, tenantID, supplierID int64) error {
	var changed SupplierChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		supplier, err := tx.SupplierByID(ctx, tenantID, supplierID)
		if err != nil {
			return err
		}
		if supplier.Deleted {
			return shared.NotFoundf("supplier %d", supplierID)
		}
		before := supplier
		now := s.now()
		supplier.Deleted = true
		supplier.DeletedAt = &now
		updated, err := tx.UpdateSupplier(ctx, supplier)
		if err != nil {
			return err
		}
		changed = SupplierChanged{Action: ActionSupplierRemoved, Before: &before, After: updated}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: delete supplier: %w", err)
	}
	s.publish(ctx, tenantID, events.TypeSupplierChanged, changed)
	return nil
}

// ListSuppliers returns live suppliers of a tenant.
func (s *Service) ListSuppliers(ctx context.Context, tenantID int64) ([]Supplier, error) {
	if tenantID <= 0 {
		return nil, shared.Validationf("tenant required")
	}
	suppliers, err := s.repo.ListSuppliers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list suppliers: %w", err)
	}
	return suppliers, nil
}

func (s *Service) liveProduct(ctx context.Context, tx TxRepository, tenantID int64, sku string) (Product, error) {
	product, err := tx.ProductBySKU(ctx, tenantID, strings.TrimSpace(sku))
	if err != nil {
		return Product{}, err
	}
	if product.Deleted {
		return Product{}, shared.NotFoundf("product %q", sku)
	}
	return product, nil
}

func (s *Service) publish(ctx context.Context, tenantID int64, t events.Type, payload any) {
	if s.bus == nil {
		return
	}
	evts := append(events.Dirty(tenantID, dirtyScopes...), events.New(t, tenantID, payload))
	s.bus.Publish(ctx, evts...)
}
