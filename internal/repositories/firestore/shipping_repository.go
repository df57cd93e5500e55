package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
)

const shippingsCollection = "shippings"

// ShippingRepository persists delivery records referenced by shipped orders.
type ShippingRepository struct {
	base *pfirestore.BaseRepository[shippingDocument]
}

// NewShippingRepository constructs a Firestore-backed shipping repository.
func NewShippingRepository(provider *pfirestore.Provider) (*ShippingRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[shippingDocument](provider, shippingsCollection, nil, nil)
	return &ShippingRepository{base: base}, nil
}

// Insert stores a new shipping document.
func (r *ShippingRepository) Insert(ctx context.Context, info domain.ShippingInfo) error {
	if r == nil || r.base == nil {
		return errors.New("shipping repository not initialised")
	}
	shippingID := strings.TrimSpace(info.ID)
	if shippingID == "" {
		return errors.New("shipping repository: shipping id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, shippingID)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, docRef, encodeShippingDocument(info)); err != nil {
		return pfirestore.WrapError("shippings.insert", err)
	}
	return nil
}

// Update replaces the persisted shipping snapshot.
func (r *ShippingRepository) Update(ctx context.Context, info domain.ShippingInfo) error {
	if r == nil || r.base == nil {
		return errors.New("shipping repository not initialised")
	}
	shippingID := strings.TrimSpace(info.ID)
	if shippingID == "" {
		return errors.New("shipping repository: shipping id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, shippingID)
	if err != nil {
		return err
	}
	if err := txSet(ctx, docRef, encodeShippingDocument(info)); err != nil {
		return pfirestore.WrapError("shippings.update", err)
	}
	return nil
}

// FindByID fetches a single shipping record.
func (r *ShippingRepository) FindByID(ctx context.Context, shippingID string) (domain.ShippingInfo, error) {
	if r == nil || r.base == nil {
		return domain.ShippingInfo{}, errors.New("shipping repository not initialised")
	}
	shippingID = strings.TrimSpace(shippingID)
	if shippingID == "" {
		return domain.ShippingInfo{}, errors.New("shipping repository: shipping id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, shippingID)
	if err != nil {
		return domain.ShippingInfo{}, err
	}
	snap, err := txGet(ctx, docRef)
	if err != nil {
		return domain.ShippingInfo{}, pfirestore.WrapError("shippings.get", err)
	}
	var doc shippingDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ShippingInfo{}, fmt.Errorf("shippings: decode document %s: %w", shippingID, err)
	}
	return decodeShippingDocument(shippingID, doc, snap.CreateTime, snap.UpdateTime), nil
}

type shippingDocument struct {
	Address           string     `firestore:"address"`
	TransportationFee int64      `firestore:"transportationFee"`
	Carrier           string     `firestore:"carrier"`
	TrackingCode      string     `firestore:"trackingCode,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func encodeShippingDocument(info domain.ShippingInfo) shippingDocument {
	return shippingDocument{
		Address:           strings.TrimSpace(info.Address),
		TransportationFee: info.TransportationFee,
		Carrier:           strings.TrimSpace(info.Carrier),
		TrackingCode:      strings.TrimSpace(info.TrackingCode),
		EstimatedDelivery: normalizeTimePointer(info.EstimatedDelivery),
		CreatedAt:         info.CreatedAt.UTC(),
		UpdatedAt:         info.UpdatedAt.UTC(),
	}
}

func decodeShippingDocument(id string, doc shippingDocument, createdAt, updatedAt time.Time) domain.ShippingInfo {
	return domain.ShippingInfo{
		ID:                strings.TrimSpace(id),
		Address:           strings.TrimSpace(doc.Address),
		TransportationFee: doc.TransportationFee,
		Carrier:           strings.TrimSpace(doc.Carrier),
		TrackingCode:      strings.TrimSpace(doc.TrackingCode),
		EstimatedDelivery: normalizeTimePointer(doc.EstimatedDelivery),
		CreatedAt:         chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:         chooseTime(doc.UpdatedAt, updatedAt),
	}
}
