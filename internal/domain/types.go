package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusProcessing is the initial state of every new order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusConfirmed means the shop accepted the order; shipped orders get a carrier booking here.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusDelivering means the parcel is with the carrier.
	OrderStatusDelivering OrderStatus = "delivering"
	// OrderStatusPendingComplete means delivery finished and the customer confirmation is pending.
	OrderStatusPendingComplete OrderStatus = "pendingComplete"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusDelivered is terminal and only reachable through the customer confirmation flow.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned is terminal and only reachable through the return confirmation flow.
	OrderStatusReturned OrderStatus = "returned"
)

// PaymentStatus tracks whether the order amount has been settled.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// ShippingMethod distinguishes carrier delivery from in-store pickup.
type ShippingMethod string

const (
	ShippingMethodShipped ShippingMethod = "shipped"
	ShippingMethodAtStore ShippingMethod = "at_store"
)

// PaymentMethodTag identifies the customer-selected payment channel.
type PaymentMethodTag string

const (
	PaymentMethodCash    PaymentMethodTag = "cash"
	PaymentMethodMomo    PaymentMethodTag = "momo"
	PaymentMethodVNPay   PaymentMethodTag = "vnpay"
	PaymentMethodZaloPay PaymentMethodTag = "zalopay"
	PaymentMethodCard    PaymentMethodTag = "card"
)

// PaymentDescriptor is the canonical record stored on an order for its payment channel.
type PaymentDescriptor struct {
	Tag         PaymentMethodTag
	Label       string
	Status      PaymentStatus
	OrderInfo   string
	OrderType   string
	PartnerCode string
}

// StatusEntry is one append-only status history record.
type StatusEntry struct {
	Status OrderStatus
	At     time.Time
}

// Order is the aggregate root for a placed order.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	CustomerName   string
	PhoneNumber    string
	Content        string
	TotalAmount    int64
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentDescriptor
	PaymentURL     string
	Status         OrderStatus
	StatusHistory  []StatusEntry
	ShippingMethod ShippingMethod
	ShippingRef    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasStatusInHistory reports whether the status already appears in the history log.
func (o Order) HasStatusInHistory(status OrderStatus) bool {
	for _, entry := range o.StatusHistory {
		if entry.Status == status {
			return true
		}
	}
	return false
}

// OrderLineItem captures one SKU's quantity and price snapshot inside an order.
type OrderLineItem struct {
	ID                  string
	OrderID             string
	SKUID               string
	Quantity            int
	UnitPrice           int64
	PriceBeforeDiscount int64
	DiscountPercent     int
	Total               int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ShippingInfo is the one-to-one delivery attachment for shipped orders.
type ShippingInfo struct {
	ID                string
	Address           string
	TransportationFee int64
	Carrier           string
	TrackingCode      string
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SKU is a purchasable product variant with its own price and stock count.
type SKU struct {
	ID                  string
	ProductRef          string
	Name                string
	Image               string
	Price               int64
	PriceBeforeDiscount int64
	DiscountPercent     int
	Stock               int
	UpdatedAt           time.Time
}

// CartLine is one SKU entry inside a shopping cart.
type CartLine struct {
	SKUID     string
	Quantity  int
	UnitPrice int64
}

// Cart holds the pre-order shopping state for a user or guest.
type Cart struct {
	ID         string
	UserID     string
	Items      []CartLine
	TotalMoney int64
	UpdatedAt  time.Time
}

// ReturnRequest is the separate aggregate created when a customer files a return.
type ReturnRequest struct {
	ID           string
	OrderID      string
	Reason       string
	CustomerName string
	PhoneNumber  string
	Images       []string
	Confirmed    bool
	CreatedAt    time.Time
}

// HealthStatus classifies the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthReport summarises downstream dependency status for readiness checks.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// SystemHealthCheck is one dependency's health snapshot.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}
