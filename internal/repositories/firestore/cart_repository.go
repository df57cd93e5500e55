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

const cartsCollection = "carts"

// CartRepository reads and clears shopping carts keyed by user.
type CartRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{provider: provider, base: base}, nil
}

// GetByUser returns the cart owned by the user.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	query := client.Collection(cartsCollection).
		Where("userId", "==", userID).
		Limit(1)

	iter := txDocuments(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Cart{}, pfirestore.WrapError("carts.get_by_user", status.Error(codes.NotFound, "cart not found"))
	}
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.get_by_user", err)
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, fmt.Errorf("carts: decode document %s: %w", snap.Ref.ID, err)
	}
	return decodeCartDocument(snap.Ref.ID, doc, snap.UpdateTime), nil
}

// Clear empties the cart's lines and resets the running total.
func (r *CartRepository) Clear(ctx context.Context, cartID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, cartID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "items", Value: []cartLineDocument{}},
		{Path: "totalMoney", Value: int64(0)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if err := txUpdate(ctx, docRef, updates); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}

type cartDocument struct {
	UserID     string             `firestore:"userId"`
	Items      []cartLineDocument `firestore:"items"`
	TotalMoney int64              `firestore:"totalMoney"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	SKUID     string `firestore:"skuId"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

func decodeCartDocument(id string, doc cartDocument, updatedAt time.Time) domain.Cart {
	items := make([]domain.CartLine, 0, len(doc.Items))
	for _, line := range doc.Items {
		items = append(items, domain.CartLine{
			SKUID:     strings.TrimSpace(line.SKUID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return domain.Cart{
		ID:         strings.TrimSpace(id),
		UserID:     strings.TrimSpace(doc.UserID),
		Items:      items,
		TotalMoney: doc.TotalMoney,
		UpdatedAt:  chooseTime(doc.UpdatedAt, updatedAt),
	}
}
