package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

const skusCollection = "skus"

// SKURepository reads product variants and applies stock adjustments.
type SKURepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[skuDocument]
}

// NewSKURepository constructs a Firestore-backed SKU repository.
func NewSKURepository(provider *pfirestore.Provider) (*SKURepository, error) {
	if provider == nil {
		return nil, errors.New("sku repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[skuDocument](provider, skusCollection, nil, nil)
	return &SKURepository{provider: provider, base: base}, nil
}

// FindByID fetches a single SKU. Inside a transaction the read joins the boundary.
func (r *SKURepository) FindByID(ctx context.Context, skuID string) (domain.SKU, error) {
	if r == nil || r.base == nil {
		return domain.SKU{}, errors.New("sku repository not initialised")
	}
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return domain.SKU{}, errors.New("sku repository: sku id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, skuID)
	if err != nil {
		return domain.SKU{}, err
	}
	snap, err := txGet(ctx, docRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.SKU{}, repositories.NewStockError(repositories.StockErrorSKUNotFound, fmt.Sprintf("sku %s not found", skuID), err)
		}
		return domain.SKU{}, pfirestore.WrapError("skus.get", err)
	}
	var doc skuDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SKU{}, fmt.Errorf("skus: decode document %s: %w", skuID, err)
	}
	return decodeSKUDocument(skuID, doc, snap.UpdateTime), nil
}

// AdjustStock applies a relative stock delta. When an active transaction is present the
// write is a blind server-side increment; otherwise a dedicated transaction validates
// availability before committing.
func (r *SKURepository) AdjustStock(ctx context.Context, skuID string, delta int64, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("sku repository not initialised")
	}
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return errors.New("sku repository: sku id is required")
	}
	if delta == 0 {
		return nil
	}

	docRef, err := r.base.DocumentRef(ctx, skuID)
	if err != nil {
		return err
	}

	updates := []firestore.Update{
		{Path: "stock", Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: now.UTC()},
	}

	if tx, ok := txFromContext(ctx); ok {
		if err := tx.Update(docRef, updates); err != nil {
			return pfirestore.WrapError("skus.adjust_stock", err)
		}
		return nil
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorSKUNotFound, fmt.Sprintf("sku %s not found", skuID), err)
			}
			return err
		}
		var doc skuDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("skus: decode document %s: %w", skuID, err)
		}
		if int64(doc.Stock)+delta < 0 {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", skuID), nil)
		}
		return tx.Update(docRef, updates)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return stockErr
		}
		return pfirestore.WrapError("skus.adjust_stock", err)
	}
	return nil
}

type skuDocument struct {
	ProductRef          string    `firestore:"productRef"`
	Name                string    `firestore:"name"`
	Image               string    `firestore:"image,omitempty"`
	Price               int64     `firestore:"price"`
	PriceBeforeDiscount int64     `firestore:"priceBeforeDiscount"`
	DiscountPercent     int       `firestore:"discountPercent"`
	Stock               int       `firestore:"stock"`
	UpdatedAt           time.Time `firestore:"updatedAt"`
}

func decodeSKUDocument(id string, doc skuDocument, updatedAt time.Time) domain.SKU {
	return domain.SKU{
		ID:                  strings.TrimSpace(id),
		ProductRef:          strings.TrimSpace(doc.ProductRef),
		Name:                strings.TrimSpace(doc.Name),
		Image:               strings.TrimSpace(doc.Image),
		Price:               doc.Price,
		PriceBeforeDiscount: doc.PriceBeforeDiscount,
		DiscountPercent:     doc.DiscountPercent,
		Stock:               doc.Stock,
		UpdatedAt:           chooseTime(doc.UpdatedAt, updatedAt),
	}
}
