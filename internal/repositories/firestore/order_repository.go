package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order headers with their payment descriptor and status history.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, docRef, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if err := txSet(ctx, docRef, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := txGet(ctx, docRef)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("orders: decode document %s: %w", orderID, err)
	}
	return decodeOrderDocument(orderID, doc, snap.CreateTime, snap.UpdateTime), nil
}

// List returns orders ordered by most recent creation, filtered by user, status, and date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseOrderStatuses(filter.Status)
	if len(statusFilters) > repositories.MaxStatusFilters {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: %d status filters: %w", len(statusFilters), repositories.ErrTooManyStatusFilters)
	}
	userID := strings.TrimSpace(filter.UserID)
	paymentStatus := strings.TrimSpace(filter.PaymentStatus)
	phoneNumber := strings.TrimSpace(filter.PhoneNumber)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if paymentStatus != "" {
			q = q.Where("paymentStatus", "==", paymentStatus)
		}
		if phoneNumber != "" {
			q = q.Where("phoneNumber", "==", phoneNumber)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			q = q.Where("status", "in", statusFilters)
		}

		if filter.DateRange.From != nil && !filter.DateRange.From.IsZero() {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil && !filter.DateRange.To.IsZero() {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber    string                  `firestore:"orderNumber,omitempty"`
	UserID         string                  `firestore:"userId"`
	CustomerName   string                  `firestore:"customerName"`
	PhoneNumber    string                  `firestore:"phoneNumber"`
	Content        string                  `firestore:"content"`
	TotalAmount    int64                   `firestore:"totalAmount"`
	PaymentStatus  string                  `firestore:"paymentStatus"`
	PaymentMethod  paymentMethodDocument   `firestore:"paymentMethod"`
	PaymentURL     string                  `firestore:"paymentUrl,omitempty"`
	Status         string                  `firestore:"status"`
	StatusHistory  []statusHistoryDocument `firestore:"statusHistory"`
	ShippingMethod string                  `firestore:"shippingMethod"`
	ShippingRef    *string                 `firestore:"shippingRef,omitempty"`
	CreatedAt      time.Time               `firestore:"createdAt"`
	UpdatedAt      time.Time               `firestore:"updatedAt"`
}

type paymentMethodDocument struct {
	Tag         string `firestore:"tag"`
	Label       string `firestore:"label"`
	Status      string `firestore:"status"`
	OrderInfo   string `firestore:"orderInfo,omitempty"`
	OrderType   string `firestore:"orderType,omitempty"`
	PartnerCode string `firestore:"partnerCode,omitempty"`
}

type statusHistoryDocument struct {
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	history := make([]statusHistoryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusHistoryDocument{
			Status: string(entry.Status),
			At:     entry.At.UTC(),
		})
	}
	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		CustomerName:  strings.TrimSpace(order.CustomerName),
		PhoneNumber:   strings.TrimSpace(order.PhoneNumber),
		Content:       strings.TrimSpace(order.Content),
		TotalAmount:   order.TotalAmount,
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: paymentMethodDocument{
			Tag:         string(order.PaymentMethod.Tag),
			Label:       strings.TrimSpace(order.PaymentMethod.Label),
			Status:      string(order.PaymentMethod.Status),
			OrderInfo:   strings.TrimSpace(order.PaymentMethod.OrderInfo),
			OrderType:   strings.TrimSpace(order.PaymentMethod.OrderType),
			PartnerCode: strings.TrimSpace(order.PaymentMethod.PartnerCode),
		},
		PaymentURL:     strings.TrimSpace(order.PaymentURL),
		Status:         string(order.Status),
		StatusHistory:  history,
		ShippingMethod: string(order.ShippingMethod),
		ShippingRef:    trimPointer(order.ShippingRef),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	history := make([]domain.StatusEntry, 0, len(doc.StatusHistory))
	for _, entry := range doc.StatusHistory {
		history = append(history, domain.StatusEntry{
			Status: domain.OrderStatus(strings.TrimSpace(entry.Status)),
			At:     entry.At.UTC(),
		})
	}
	return domain.Order{
		ID:            strings.TrimSpace(id),
		OrderNumber:   strings.TrimSpace(doc.OrderNumber),
		UserID:        strings.TrimSpace(doc.UserID),
		CustomerName:  strings.TrimSpace(doc.CustomerName),
		PhoneNumber:   strings.TrimSpace(doc.PhoneNumber),
		Content:       strings.TrimSpace(doc.Content),
		TotalAmount:   doc.TotalAmount,
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(doc.PaymentStatus)),
		PaymentMethod: domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodTag(strings.TrimSpace(doc.PaymentMethod.Tag)),
			Label:       strings.TrimSpace(doc.PaymentMethod.Label),
			Status:      domain.PaymentStatus(strings.TrimSpace(doc.PaymentMethod.Status)),
			OrderInfo:   strings.TrimSpace(doc.PaymentMethod.OrderInfo),
			OrderType:   strings.TrimSpace(doc.PaymentMethod.OrderType),
			PartnerCode: strings.TrimSpace(doc.PaymentMethod.PartnerCode),
		},
		PaymentURL:     strings.TrimSpace(doc.PaymentURL),
		Status:         domain.OrderStatus(strings.TrimSpace(doc.Status)),
		StatusHistory:  history,
		ShippingMethod: domain.ShippingMethod(strings.TrimSpace(doc.ShippingMethod)),
		ShippingRef:    trimPointer(doc.ShippingRef),
		CreatedAt:      chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func normaliseOrderStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.TrimSpace(status)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
