package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
)

const orderItemsCollection = "orderItems"

// OrderItemRepository persists the line items belonging to orders.
type OrderItemRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderItemDocument]
}

// NewOrderItemRepository constructs a Firestore-backed order line item repository.
func NewOrderItemRepository(provider *pfirestore.Provider) (*OrderItemRepository, error) {
	if provider == nil {
		return nil, errors.New("order item repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderItemDocument](provider, orderItemsCollection, nil, nil)
	return &OrderItemRepository{provider: provider, base: base}, nil
}

// Insert stores a new line item document.
func (r *OrderItemRepository) Insert(ctx context.Context, item domain.OrderLineItem) error {
	if r == nil || r.base == nil {
		return errors.New("order item repository not initialised")
	}
	itemID := strings.TrimSpace(item.ID)
	if itemID == "" {
		return errors.New("order item repository: item id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, itemID)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, docRef, encodeOrderItemDocument(item)); err != nil {
		return pfirestore.WrapError("orderItems.insert", err)
	}
	return nil
}

// Update replaces the persisted line item snapshot.
func (r *OrderItemRepository) Update(ctx context.Context, item domain.OrderLineItem) error {
	if r == nil || r.base == nil {
		return errors.New("order item repository not initialised")
	}
	itemID := strings.TrimSpace(item.ID)
	if itemID == "" {
		return errors.New("order item repository: item id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, itemID)
	if err != nil {
		return err
	}
	if err := txSet(ctx, docRef, encodeOrderItemDocument(item)); err != nil {
		return pfirestore.WrapError("orderItems.update", err)
	}
	return nil
}

// Delete removes a line item after verifying it belongs to the order.
func (r *OrderItemRepository) Delete(ctx context.Context, orderID string, itemID string) error {
	if r == nil || r.base == nil {
		return errors.New("order item repository not initialised")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return errors.New("order item repository: item id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, itemID)
	if err != nil {
		return err
	}
	snap, err := txGet(ctx, docRef)
	if err != nil {
		return pfirestore.WrapError("orderItems.delete", err)
	}
	var doc orderItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return fmt.Errorf("orderItems: decode document %s: %w", itemID, err)
	}
	if strings.TrimSpace(orderID) != "" && doc.OrderID != strings.TrimSpace(orderID) {
		return pfirestore.WrapError("orderItems.delete", status.Error(codes.NotFound, "item does not belong to order"))
	}
	if err := txDelete(ctx, docRef); err != nil {
		return pfirestore.WrapError("orderItems.delete", err)
	}
	return nil
}

// FindBySKU returns the line item of the order that carries the given SKU.
func (r *OrderItemRepository) FindBySKU(ctx context.Context, orderID string, skuID string) (domain.OrderLineItem, error) {
	if r == nil || r.provider == nil {
		return domain.OrderLineItem{}, errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	skuID = strings.TrimSpace(skuID)
	if orderID == "" || skuID == "" {
		return domain.OrderLineItem{}, errors.New("order item repository: order id and sku id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.OrderLineItem{}, err
	}
	query := client.Collection(orderItemsCollection).
		Where("orderId", "==", orderID).
		Where("skuId", "==", skuID).
		Limit(1)

	iter := txDocuments(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.OrderLineItem{}, pfirestore.WrapError("orderItems.find_by_sku", status.Error(codes.NotFound, "line item not found"))
	}
	if err != nil {
		return domain.OrderLineItem{}, pfirestore.WrapError("orderItems.find_by_sku", err)
	}
	var doc orderItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.OrderLineItem{}, fmt.Errorf("orderItems: decode document %s: %w", snap.Ref.ID, err)
	}
	return decodeOrderItemDocument(snap.Ref.ID, doc, snap.CreateTime, snap.UpdateTime), nil
}

// List returns every line item attached to the order.
func (r *OrderItemRepository) List(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order item repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(orderItemsCollection).
		Where("orderId", "==", orderID).
		OrderBy("createdAt", firestore.Asc)

	iter := txDocuments(ctx, query)
	defer iter.Stop()

	var items []domain.OrderLineItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orderItems.list", err)
		}
		var doc orderItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("orderItems: decode document %s: %w", snap.Ref.ID, err)
		}
		items = append(items, decodeOrderItemDocument(snap.Ref.ID, doc, snap.CreateTime, snap.UpdateTime))
	}
	return items, nil
}

type orderItemDocument struct {
	OrderID             string    `firestore:"orderId"`
	SKUID               string    `firestore:"skuId"`
	Quantity            int       `firestore:"quantity"`
	UnitPrice           int64     `firestore:"unitPrice"`
	PriceBeforeDiscount int64     `firestore:"priceBeforeDiscount"`
	DiscountPercent     int       `firestore:"discountPercent"`
	Total               int64     `firestore:"total"`
	CreatedAt           time.Time `firestore:"createdAt"`
	UpdatedAt           time.Time `firestore:"updatedAt"`
}

func encodeOrderItemDocument(item domain.OrderLineItem) orderItemDocument {
	return orderItemDocument{
		OrderID:             strings.TrimSpace(item.OrderID),
		SKUID:               strings.TrimSpace(item.SKUID),
		Quantity:            item.Quantity,
		UnitPrice:           item.UnitPrice,
		PriceBeforeDiscount: item.PriceBeforeDiscount,
		DiscountPercent:     item.DiscountPercent,
		Total:               item.Total,
		CreatedAt:           item.CreatedAt.UTC(),
		UpdatedAt:           item.UpdatedAt.UTC(),
	}
}

func decodeOrderItemDocument(id string, doc orderItemDocument, createdAt, updatedAt time.Time) domain.OrderLineItem {
	return domain.OrderLineItem{
		ID:                  strings.TrimSpace(id),
		OrderID:             strings.TrimSpace(doc.OrderID),
		SKUID:               strings.TrimSpace(doc.SKUID),
		Quantity:            doc.Quantity,
		UnitPrice:           doc.UnitPrice,
		PriceBeforeDiscount: doc.PriceBeforeDiscount,
		DiscountPercent:     doc.DiscountPercent,
		Total:               doc.Total,
		CreatedAt:           chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:           chooseTime(doc.UpdatedAt, updatedAt),
	}
}
