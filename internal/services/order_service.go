package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/payments"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
	"github.com/DawnBreaker207/Graduate-Project/internal/shipping"
)

var (
	errOrderRepositoriesRequired = errors.New("order service: repositories are required")
	errOrderClockRequired        = errors.New("order service: clock is required")
	errOrderPaymentsRequired     = errors.New("order service: payment manager is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderUnavailable indicates a backend failure the caller cannot fix.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: order not found")

// ErrOrderConflict indicates the order changed underneath a concurrent update.
var ErrOrderConflict = errors.New("order service: conflict")

// ErrPaymentMethodInvalid indicates an unrecognised payment method tag.
var ErrPaymentMethodInvalid = errors.New("order service: invalid payment method")

// ErrInvalidTransition indicates the target status violates the state machine.
var ErrInvalidTransition = errors.New("order service: invalid status transition")

// ErrDuplicateTransition indicates the target status already appears in history.
var ErrDuplicateTransition = errors.New("order service: status already recorded")

// ErrNoOpTransition indicates the order is already in the target status.
var ErrNoOpTransition = errors.New("order service: order already in status")

// ErrBookingFailed indicates the carrier booking sub-step failed; the status
// transition is aborted and no history entry is written.
var ErrBookingFailed = errors.New("order service: carrier booking failed")

// ErrShippingInfoNotFound indicates a shipped order has no shipping record.
var ErrShippingInfoNotFound = errors.New("order service: shipping info not found")

// ErrLineItemNotFound indicates no line item exists for the SKU on the order.
var ErrLineItemNotFound = errors.New("order service: line item not found")

// ErrInsufficientStock indicates the SKU has no stock left for an increment.
var ErrInsufficientStock = errors.New("order service: insufficient stock")

// ErrMinimumQuantity indicates a decrement below quantity 1; items at the
// minimum must be removed instead.
var ErrMinimumQuantity = errors.New("order service: quantity already at minimum")

// ResolvePaymentMethod maps a payment method tag to its canonical descriptor.
func ResolvePaymentMethod(tag domain.PaymentMethodTag) (domain.PaymentDescriptor, error) {
	descriptor, err := payments.Describe(tag)
	if err != nil {
		return domain.PaymentDescriptor{}, fmt.Errorf("%w: %q", ErrPaymentMethodInvalid, tag)
	}
	return descriptor, nil
}

// statusTransitions is the explicit state machine. Terminal states have no
// outgoing edges; delivered and returned are reachable only through their
// dedicated confirmation flows, never through AdvanceStatus.
var statusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing:      {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:       {domain.OrderStatusDelivering, domain.OrderStatusCancelled},
	domain.OrderStatusDelivering:      {domain.OrderStatusPendingComplete, domain.OrderStatusCancelled},
	domain.OrderStatusPendingComplete: {},
	domain.OrderStatusCancelled:       {},
	domain.OrderStatusDelivered:       {},
	domain.OrderStatusReturned:        {},
}

func isKnownStatus(status domain.OrderStatus) bool {
	_, ok := statusTransitions[status]
	return ok
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type paymentResolver interface {
	Resolve(ctx context.Context, tag domain.PaymentMethodTag, req payments.InitiateRequest) (domain.PaymentDescriptor, *payments.Session, error)
}

type carrierGateway interface {
	ResolveAddress(ctx context.Context, address string) (shipping.Location, error)
	CreateBooking(ctx context.Context, req shipping.BookingRequest) (shipping.Booking, error)
	CarrierName() string
}

// OrderServiceDeps wires repositories, the payment manager and the carrier
// client into the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Items     repositories.OrderItemRepository
	Shippings repositories.ShippingRepository
	SKUs      repositories.SKURepository
	Carts     repositories.CartRepository
	Tx        repositories.UnitOfWork
	Counters  repositories.CounterRepository
	Payments  paymentResolver
	Carrier   carrierGateway
	Events    EventPublisher

	DefaultTransportationFee int64
	Clock                    func() time.Time
	IDGenerator              func() string
	Logger                   func(context.Context, string, map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	items     repositories.OrderItemRepository
	shippings repositories.ShippingRepository
	skus      repositories.SKURepository
	carts     repositories.CartRepository
	tx        repositories.UnitOfWork
	counters  repositories.CounterRepository
	payments  paymentResolver
	carrier   carrierGateway
	events    EventPublisher

	defaultFee int64
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil || deps.Items == nil || deps.Shippings == nil || deps.SKUs == nil || deps.Carts == nil || deps.Tx == nil {
		return nil, errOrderRepositoriesRequired
	}
	if deps.Payments == nil {
		return nil, errOrderPaymentsRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}

	defaultFee := deps.DefaultTransportationFee
	if defaultFee <= 0 {
		defaultFee = 3000
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	events := deps.Events
	if events == nil {
		events = noopEvents{}
	}

	return &orderService{
		orders:     deps.Orders,
		items:      deps.Items,
		shippings:  deps.Shippings,
		skus:       deps.SKUs,
		carts:      deps.Carts,
		tx:         deps.Tx,
		counters:   deps.Counters,
		payments:   deps.Payments,
		carrier:    deps.Carrier,
		events:     events,
		defaultFee: defaultFee,
		now:        func() time.Time { return deps.Clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, string, map[string]any) {}

// Create places an order. Payment resolution happens first; the order header,
// line items, stock decrements, shipping record and cart clear then commit as
// one transaction so a failure leaves no partial state behind.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (OrderView, error) {
	if err := validateCreateCommand(cmd); err != nil {
		return OrderView{}, err
	}
	now := s.now()
	orderID := "ord_" + s.newID()

	// Counters run their own transaction, so the sequence is drawn before the
	// order transaction starts.
	orderNumber := ""
	if s.counters != nil {
		seq, err := s.counters.Next(ctx, "orders", 1)
		if err != nil {
			return OrderView{}, s.translateError(err)
		}
		orderNumber = fmt.Sprintf("DH-%d-%06d", now.Year(), seq)
	}

	fee := s.defaultFee
	if cmd.TransportationFee != nil {
		if *cmd.TransportationFee < 0 {
			return OrderView{}, fmt.Errorf("%w: transportation fee must not be negative", ErrOrderInvalidInput)
		}
		fee = *cmd.TransportationFee
	}
	total := cmd.TotalAmount + fee

	descriptor, session, err := s.payments.Resolve(ctx, cmd.PaymentMethod, payments.InitiateRequest{
		OrderID:        orderID,
		Amount:         total,
		ClientIP:       cmd.ClientIP,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedMethod) {
			return OrderView{}, fmt.Errorf("%w: %q", ErrPaymentMethodInvalid, cmd.PaymentMethod)
		}
		return OrderView{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	paymentURL := ""
	if session != nil {
		paymentURL = session.RedirectURL
	}

	order := domain.Order{
		ID:             orderID,
		OrderNumber:    orderNumber,
		UserID:         cmd.UserID,
		CustomerName:   cmd.CustomerName,
		PhoneNumber:    cmd.PhoneNumber,
		Content:        cmd.Content,
		TotalAmount:    total,
		PaymentStatus:  descriptor.Status,
		PaymentMethod:  descriptor,
		PaymentURL:     paymentURL,
		Status:         domain.OrderStatusProcessing,
		StatusHistory:  []domain.StatusEntry{{Status: domain.OrderStatusProcessing, At: now}},
		ShippingMethod: cmd.ShippingMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var shippingInfo *domain.ShippingInfo
	if cmd.ShippingMethod == domain.ShippingMethodShipped {
		info := domain.ShippingInfo{
			ID:                "shp_" + s.newID(),
			Address:           cmd.Address + "," + cmd.ShippingAddress,
			TransportationFee: fee,
			Carrier:           s.carrierName(),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		shippingInfo = &info
		order.ShippingRef = &info.ID
	}

	lineItems := make([]domain.OrderLineItem, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		lineItems = append(lineItems, domain.OrderLineItem{
			ID:                  "odi_" + s.newID(),
			OrderID:             orderID,
			SKUID:               line.SKUID,
			Quantity:            line.Quantity,
			UnitPrice:           line.UnitPrice,
			PriceBeforeDiscount: line.PriceBeforeDiscount,
			DiscountPercent:     line.DiscountPercent,
			Total:               int64(line.Quantity) * line.UnitPrice,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// All reads come first; Firestore transactions forbid reads after writes.
		for _, line := range cmd.Items {
			sku, err := s.skus.FindByID(ctx, line.SKUID)
			if err != nil {
				if isRepoNotFound(err) || isStockNotFound(err) {
					return fmt.Errorf("%w: sku %q", ErrOrderInvalidInput, line.SKUID)
				}
				return err
			}
			if sku.Stock < line.Quantity {
				return fmt.Errorf("%w: sku %q has %d left", ErrInsufficientStock, line.SKUID, sku.Stock)
			}
		}

		if err := s.orders.Insert(ctx, order); err != nil {
			return err
		}
		for _, item := range lineItems {
			if err := s.items.Insert(ctx, item); err != nil {
				return err
			}
		}
		for _, line := range cmd.Items {
			if err := s.skus.AdjustStock(ctx, line.SKUID, -int64(line.Quantity), now); err != nil {
				return err
			}
		}
		if shippingInfo != nil {
			if err := s.shippings.Insert(ctx, *shippingInfo); err != nil {
				return err
			}
		}
		if cmd.CartID != "" {
			if err := s.carts.Clear(ctx, cmd.CartID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return OrderView{}, s.translateError(err)
	}

	s.events.Publish(ctx, "order.created", map[string]any{
		"orderId":       order.ID,
		"userId":        order.UserID,
		"totalAmount":   order.TotalAmount,
		"paymentMethod": string(order.PaymentMethod.Tag),
	})
	return OrderView{Order: order, Items: lineItems, Shipping: shippingInfo}, nil
}

func validateCreateCommand(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrOrderInvalidInput)
	}
	if cmd.TotalAmount < 0 {
		return fmt.Errorf("%w: total amount must not be negative", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrOrderInvalidInput)
	}
	// One line per distinct SKU; the stock check reads each SKU once and a
	// duplicate line would slip past it.
	seenSKUs := make(map[string]struct{}, len(cmd.Items))
	for _, line := range cmd.Items {
		skuID := strings.TrimSpace(line.SKUID)
		if skuID == "" {
			return fmt.Errorf("%w: line item sku id is required", ErrOrderInvalidInput)
		}
		if _, dup := seenSKUs[skuID]; dup {
			return fmt.Errorf("%w: duplicate line item for sku %q", ErrOrderInvalidInput, skuID)
		}
		seenSKUs[skuID] = struct{}{}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line item quantity must be at least 1", ErrOrderInvalidInput)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("%w: line item price must not be negative", ErrOrderInvalidInput)
		}
	}
	switch cmd.ShippingMethod {
	case domain.ShippingMethodShipped:
		if strings.TrimSpace(cmd.Address) == "" || strings.TrimSpace(cmd.ShippingAddress) == "" {
			return fmt.Errorf("%w: shipped orders need address and shipping address", ErrOrderInvalidInput)
		}
	case domain.ShippingMethodAtStore:
	default:
		return fmt.Errorf("%w: unknown shipping method %q", ErrOrderInvalidInput, cmd.ShippingMethod)
	}
	return nil
}

func (s *orderService) carrierName() string {
	if s.carrier != nil {
		return s.carrier.CarrierName()
	}
	return "Giao hàng nhanh"
}

// Get returns the order with line items and shipping info attached.
func (s *orderService) Get(ctx context.Context, orderID string) (OrderView, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.translateError(err)
	}
	return s.assembleView(ctx, order)
}

func (s *orderService) assembleView(ctx context.Context, order domain.Order) (OrderView, error) {
	items, err := s.items.List(ctx, order.ID)
	if err != nil {
		return OrderView{}, s.translateError(err)
	}
	view := OrderView{Order: order, Items: items}
	if order.ShippingRef != nil {
		info, err := s.shippings.FindByID(ctx, *order.ShippingRef)
		if err != nil {
			if !isRepoNotFound(err) {
				return OrderView{}, s.translateError(err)
			}
		} else {
			view.Shipping = &info
		}
	}
	return view, nil
}

// List returns orders matching the query with cursor pagination.
func (s *orderService) List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	if distinctStatusCount(query.Status) > repositories.MaxStatusFilters {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, repositories.ErrTooManyStatusFilters)
	}
	filter := repositories.OrderListFilter{
		UserID:        strings.TrimSpace(query.UserID),
		Status:        query.Status,
		PaymentStatus: strings.TrimSpace(query.PaymentStatus),
		PhoneNumber:   strings.TrimSpace(query.PhoneNumber),
		Pagination:    query.Pagination,
	}
	filter.DateRange.From = query.DateFrom
	filter.DateRange.To = query.DateTo
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.translateError(err)
	}
	return page, nil
}

func distinctStatusCount(statuses []string) int {
	seen := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			seen[trimmed] = struct{}{}
		}
	}
	return len(seen)
}

// AdvanceStatus applies one state-machine transition. Checks run in a fixed
// order so callers get stable error kinds; the carrier booking sub-step runs
// before anything is written, so a booking failure leaves the order untouched.
func (s *orderService) AdvanceStatus(ctx context.Context, orderID string, target domain.OrderStatus) (OrderView, error) {
	if !isKnownStatus(target) {
		return OrderView{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.translateError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return OrderView{}, fmt.Errorf("%w: order is cancelled", ErrInvalidTransition)
	}
	if order.Status == domain.OrderStatusDelivered {
		return OrderView{}, fmt.Errorf("%w: order is delivered", ErrInvalidTransition)
	}
	if order.HasStatusInHistory(target) {
		return OrderView{}, fmt.Errorf("%w: %q", ErrDuplicateTransition, target)
	}
	if order.Status == target {
		return OrderView{}, fmt.Errorf("%w: %q", ErrNoOpTransition, target)
	}
	if target == domain.OrderStatusReturned {
		return OrderView{}, fmt.Errorf("%w: returned requires the return confirmation flow", ErrInvalidTransition)
	}
	if target == domain.OrderStatusDelivered {
		return OrderView{}, fmt.Errorf("%w: delivered requires the customer confirmation flow", ErrInvalidTransition)
	}
	if !canTransition(order.Status, target) {
		return OrderView{}, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, order.Status, target)
	}

	var bookedShipping *domain.ShippingInfo
	if target == domain.OrderStatusConfirmed && order.ShippingMethod == domain.ShippingMethodShipped {
		info, err := s.bookCarrier(ctx, order)
		if err != nil {
			return OrderView{}, err
		}
		bookedShipping = info
	}

	now := s.now()
	var updated domain.Order
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status != order.Status {
			return fmt.Errorf("%w: status changed to %q", ErrOrderConflict, current.Status)
		}
		current.Status = target
		current.StatusHistory = append(current.StatusHistory, domain.StatusEntry{Status: target, At: now})
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		if bookedShipping != nil {
			if err := s.shippings.Update(ctx, *bookedShipping); err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return OrderView{}, s.translateError(err)
	}

	s.events.Publish(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"status":  string(updated.Status),
	})
	return s.assembleView(ctx, updated)
}

// bookCarrier registers the shipment with the carrier and returns the shipping
// record carrying the new tracking code and delivery estimate. Nothing is
// persisted here.
func (s *orderService) bookCarrier(ctx context.Context, order domain.Order) (*domain.ShippingInfo, error) {
	if s.carrier == nil {
		return nil, fmt.Errorf("%w: no carrier configured", ErrBookingFailed)
	}
	if order.ShippingRef == nil {
		return nil, ErrShippingInfoNotFound
	}
	info, err := s.shippings.FindByID(ctx, *order.ShippingRef)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, ErrShippingInfoNotFound
		}
		return nil, s.translateError(err)
	}

	items, err := s.items.List(ctx, order.ID)
	if err != nil {
		return nil, s.translateError(err)
	}
	manifest := make([]shipping.BookingItem, 0, len(items))
	for _, item := range items {
		sku, err := s.skus.FindByID(ctx, item.SKUID)
		if err != nil {
			return nil, fmt.Errorf("%w: sku %q: %v", ErrBookingFailed, item.SKUID, err)
		}
		manifest = append(manifest, shipping.BookingItem{
			SKUID:    sku.ID,
			Name:     sku.Name,
			Price:    sku.Price,
			Quantity: int64(item.Quantity),
		})
	}

	// The stored address is "<primary>,<ward, district, province>"; the
	// remainder after the first comma is what the carrier can resolve.
	remainder := info.Address
	if _, rest, found := strings.Cut(info.Address, ","); found {
		remainder = rest
	}
	location, err := s.carrier.ResolveAddress(ctx, remainder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	booking, err := s.carrier.CreateBooking(ctx, shipping.BookingRequest{
		ToName:       order.CustomerName,
		ToPhone:      order.PhoneNumber,
		ToAddress:    info.Address,
		ToWardCode:   location.WardCode,
		ToDistrictID: location.District.DistrictID,
		Content:      order.Content,
		Items:        manifest,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	now := s.now()
	info.TrackingCode = booking.OrderCode
	if !booking.ExpectedDeliveryTime.IsZero() {
		estimated := booking.ExpectedDeliveryTime
		info.EstimatedDelivery = &estimated
	}
	info.UpdatedAt = now
	return &info, nil
}

// AdjustQuantity moves one line item up or down by one unit inside a single
// transaction, keeping SKU stock and the order total consistent. The order
// total is always a full re-sum over the remaining items.
func (s *orderService) AdjustQuantity(ctx context.Context, cmd AdjustQuantityCommand) (OrderView, error) {
	if cmd.Delta != 1 && cmd.Delta != -1 {
		return OrderView{}, fmt.Errorf("%w: delta must be +1 or -1", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.SKUID) == "" {
		return OrderView{}, fmt.Errorf("%w: order id and sku id are required", ErrOrderInvalidInput)
	}

	var (
		updatedOrder domain.Order
		updatedItems []domain.OrderLineItem
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		item, err := s.items.FindBySKU(ctx, cmd.OrderID, cmd.SKUID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrLineItemNotFound
			}
			return err
		}
		sku, err := s.skus.FindByID(ctx, cmd.SKUID)
		if err != nil {
			if isRepoNotFound(err) || isStockNotFound(err) {
				return ErrLineItemNotFound
			}
			return err
		}
		siblings, err := s.items.List(ctx, cmd.OrderID)
		if err != nil {
			return err
		}

		if cmd.Delta > 0 {
			if sku.Stock < 1 {
				return fmt.Errorf("%w: sku %q is out of stock", ErrInsufficientStock, cmd.SKUID)
			}
		} else if item.Quantity <= 1 {
			return ErrMinimumQuantity
		}

		now := s.now()
		item.Quantity += cmd.Delta
		item.Total = int64(item.Quantity) * item.UnitPrice
		item.UpdatedAt = now

		var total int64
		updatedItems = updatedItems[:0]
		for _, sibling := range siblings {
			if sibling.ID == item.ID {
				sibling = item
			}
			total += sibling.Total
			updatedItems = append(updatedItems, sibling)
		}
		order.TotalAmount = total
		order.UpdatedAt = now

		if err := s.items.Update(ctx, item); err != nil {
			return err
		}
		// Stock moves inversely to the quantity change.
		if err := s.skus.AdjustStock(ctx, cmd.SKUID, int64(-cmd.Delta), now); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		updatedOrder = order
		return nil
	})
	if err != nil {
		return OrderView{}, s.translateError(err)
	}
	return OrderView{Order: updatedOrder, Items: updatedItems}, nil
}

// RemoveItem deletes a line item outright. Unlike decrement this path does not
// restore stock; the two operations keep distinct semantics.
func (s *orderService) RemoveItem(ctx context.Context, orderID string, skuID string) (OrderView, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(skuID) == "" {
		return OrderView{}, fmt.Errorf("%w: order id and sku id are required", ErrOrderInvalidInput)
	}

	var (
		updatedOrder domain.Order
		remaining    []domain.OrderLineItem
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		item, err := s.items.FindBySKU(ctx, orderID, skuID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrLineItemNotFound
			}
			return err
		}
		siblings, err := s.items.List(ctx, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		var total int64
		remaining = remaining[:0]
		for _, sibling := range siblings {
			if sibling.ID == item.ID {
				continue
			}
			total += sibling.Total
			remaining = append(remaining, sibling)
		}
		order.TotalAmount = total
		order.UpdatedAt = now

		if err := s.items.Delete(ctx, orderID, item.ID); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		updatedOrder = order
		return nil
	})
	if err != nil {
		return OrderView{}, s.translateError(err)
	}
	return OrderView{Order: updatedOrder, Items: remaining}, nil
}

// ConfirmDelivered is the dedicated customer confirmation that moves a
// pendingComplete order to delivered.
func (s *orderService) ConfirmDelivered(ctx context.Context, orderID string) (OrderView, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	now := s.now()
	var updated domain.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPendingComplete {
			return fmt.Errorf("%w: only pendingComplete orders can be confirmed delivered, got %q", ErrInvalidTransition, order.Status)
		}
		if order.HasStatusInHistory(domain.OrderStatusDelivered) {
			return fmt.Errorf("%w: %q", ErrDuplicateTransition, domain.OrderStatusDelivered)
		}
		order.Status = domain.OrderStatusDelivered
		order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{Status: domain.OrderStatusDelivered, At: now})
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return OrderView{}, s.translateError(err)
	}

	s.events.Publish(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"status":  string(updated.Status),
	})
	return s.assembleView(ctx, updated)
}

// MarkPaid flips the payment status after a verified gateway callback. Repeat
// callbacks for an already-paid order are a no-op so webhook retries stay safe.
func (s *orderService) MarkPaid(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	now := s.now()
	var updated domain.Order
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			updated = order
			return nil
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentMethod.Status = domain.PaymentStatusPaid
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateError(err)
	}
	if changed {
		s.events.Publish(ctx, "order.payment.updated", map[string]any{
			"orderId":       updated.ID,
			"paymentStatus": string(updated.PaymentStatus),
		})
	}
	return updated, nil
}

// translateError maps repository failures onto service sentinels, passing
// already-classified service errors through untouched.
func (s *orderService) translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderInvalidInput),
		errors.Is(err, ErrOrderConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateTransition),
		errors.Is(err, ErrNoOpTransition),
		errors.Is(err, ErrBookingFailed),
		errors.Is(err, ErrShippingInfoNotFound),
		errors.Is(err, ErrLineItemNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrMinimumQuantity):
		return err
	case errors.Is(err, repositories.ErrTooManyStatusFilters):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case isRepoNotFound(err):
		return ErrOrderNotFound
	default:
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			if stockErr.Code == repositories.StockErrorInsufficient {
				return fmt.Errorf("%w: %s", ErrInsufficientStock, stockErr.Message)
			}
			if stockErr.Code == repositories.StockErrorSKUNotFound {
				return fmt.Errorf("%w: %s", ErrOrderInvalidInput, stockErr.Message)
			}
		}
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}
