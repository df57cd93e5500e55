package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Shippings() ShippingRepository
	SKUs() SKURepository
	Carts() CartRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderItemRepository stores line items underneath an order document.
type OrderItemRepository interface {
	Insert(ctx context.Context, item domain.OrderLineItem) error
	Update(ctx context.Context, item domain.OrderLineItem) error
	Delete(ctx context.Context, orderID string, itemID string) error
	FindBySKU(ctx context.Context, orderID string, skuID string) (domain.OrderLineItem, error)
	List(ctx context.Context, orderID string) ([]domain.OrderLineItem, error)
}

// ShippingRepository stores delivery records attached to shipped orders.
type ShippingRepository interface {
	Insert(ctx context.Context, info domain.ShippingInfo) error
	Update(ctx context.Context, info domain.ShippingInfo) error
	FindByID(ctx context.Context, shippingID string) (domain.ShippingInfo, error)
}

// SKURepository exposes stock lookups and transaction-safe stock adjustments.
// AdjustStock applies a relative stock delta; callers validate availability
// beforehand via FindByID since transactional writes cannot re-read.
type SKURepository interface {
	FindByID(ctx context.Context, skuID string) (domain.SKU, error)
	AdjustStock(ctx context.Context, skuID string, delta int64, now time.Time) error
}

// CartRepository owns cart header + line persistence keyed by user.
type CartRepository interface {
	GetByUser(ctx context.Context, userID string) (domain.Cart, error)
	Clear(ctx context.Context, cartID string, now time.Time) error
}

// ReturnRepository stores return requests filed against delivered orders.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	FindByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// MaxStatusFilters bounds the status values accepted by order listings.
// Firestore "in" clauses take at most ten values.
const MaxStatusFilters = 10

// ErrTooManyStatusFilters is returned instead of silently narrowing the query.
var ErrTooManyStatusFilters = errors.New("orders: status filter accepts at most 10 values")

type OrderListFilter struct {
	UserID        string
	Status        []string
	PaymentStatus string
	PhoneNumber   string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type ReturnListFilter struct {
	Confirmed   *bool
	PhoneNumber string
	Pagination  domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
