package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

// OrderService owns order placement, the status lifecycle, and line-item mutation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (OrderView, error)
	Get(ctx context.Context, orderID string) (OrderView, error)
	List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error)
	AdvanceStatus(ctx context.Context, orderID string, target domain.OrderStatus) (OrderView, error)
	AdjustQuantity(ctx context.Context, cmd AdjustQuantityCommand) (OrderView, error)
	RemoveItem(ctx context.Context, orderID string, skuID string) (OrderView, error)
	ConfirmDelivered(ctx context.Context, orderID string) (OrderView, error)
	MarkPaid(ctx context.Context, orderID string) (domain.Order, error)
}

// ReturnService owns filing and confirming return requests against delivered orders.
type ReturnService interface {
	FileReturn(ctx context.Context, cmd FileReturnCommand) (domain.ReturnRequest, error)
	ListReturns(ctx context.Context, query ListReturnsQuery) (domain.CursorPage[domain.ReturnRequest], error)
	ConfirmReturn(ctx context.Context, returnID string) (domain.ReturnRequest, error)
}

// ShippingQuoteService prices carrier delivery for a free-form address.
type ShippingQuoteService interface {
	Quote(ctx context.Context, address string) (int64, error)
}

// EventPublisher emits order domain events after state changes commit. Publishing
// is best effort; implementations log failures instead of returning them.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

// CreateOrderLine is one requested SKU with the quantity and the price snapshot
// captured at order time.
type CreateOrderLine struct {
	SKUID               string
	Quantity            int
	UnitPrice           int64
	PriceBeforeDiscount int64
	DiscountPercent     int
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	UserID            string
	CustomerName      string
	PhoneNumber       string
	Content           string
	Address           string
	ShippingAddress   string
	PaymentMethod     domain.PaymentMethodTag
	ShippingMethod    domain.ShippingMethod
	TotalAmount       int64
	TransportationFee *int64
	CartID            string
	ClientIP          string
	IdempotencyKey    string
	Items             []CreateOrderLine
}

// AdjustQuantityCommand bumps one line item up or down by exactly one unit.
type AdjustQuantityCommand struct {
	OrderID string
	SKUID   string
	Delta   int
}

// ListOrdersQuery filters the order listing.
type ListOrdersQuery struct {
	UserID        string
	Status        []string
	PaymentStatus string
	PhoneNumber   string
	DateFrom      *time.Time
	DateTo        *time.Time
	Pagination    domain.Pagination
}

// FileReturnCommand carries a customer's return request.
type FileReturnCommand struct {
	OrderID      string
	Reason       string
	CustomerName string
	PhoneNumber  string
	Images       []string
}

// ListReturnsQuery filters the return listing.
type ListReturnsQuery struct {
	Confirmed   *bool
	PhoneNumber string
	Pagination  domain.Pagination
}

// OrderView is an order with its line items and shipping record attached.
type OrderView struct {
	Order    domain.Order
	Items    []domain.OrderLineItem
	Shipping *domain.ShippingInfo
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isStockNotFound(err error) bool {
	var stockErr *repositories.StockError
	return errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorSKUNotFound
}
