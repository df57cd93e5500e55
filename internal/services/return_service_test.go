package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
	"github.com/DawnBreaker207/Graduate-Project/internal/shipping"
)

type stubReturnRepo struct {
	insertFn      func(ctx context.Context, request domain.ReturnRequest) error
	updateFn      func(ctx context.Context, request domain.ReturnRequest) error
	findFn        func(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	findByOrderFn func(ctx context.Context, orderID string) (domain.ReturnRequest, error)
	listFn        func(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnRepo) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, request)
	}
	return nil
}

func (s *stubReturnRepo) Update(ctx context.Context, request domain.ReturnRequest) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, request)
	}
	return nil
}

func (s *stubReturnRepo) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if s.findFn != nil {
		return s.findFn(ctx, returnID)
	}
	return domain.ReturnRequest{}, notFoundErr{}
}

func (s *stubReturnRepo) FindByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	if s.findByOrderFn != nil {
		return s.findByOrderFn(ctx, orderID)
	}
	return domain.ReturnRequest{}, notFoundErr{}
}

func (s *stubReturnRepo) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.ReturnRequest]{}, nil
}

func newReturnService(t *testing.T, returns *stubReturnRepo, orders *stubOrderRepo, events *stubEvents) ReturnService {
	t.Helper()
	if events == nil {
		events = &stubEvents{}
	}
	svc, err := NewReturnService(ReturnServiceDeps{
		Returns:     returns,
		Orders:      orders,
		Tx:          passthroughTx{},
		Events:      events,
		Clock:       fixedClock,
		IDGenerator: func() string { return "r1" },
	})
	if err != nil {
		t.Fatalf("NewReturnService: %v", err)
	}
	return svc
}

func validFileReturn() FileReturnCommand {
	return FileReturnCommand{
		OrderID:      "ord_1",
		Reason:       "Sản phẩm bị lỗi",
		CustomerName: "Nguyễn Văn A",
		PhoneNumber:  "0900000000",
		Images:       []string{"https://cdn.example/1.jpg"},
	}
}

func TestFileReturnRejectsDuplicate(t *testing.T) {
	returns := &stubReturnRepo{
		findByOrderFn: func(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{ID: "ret_0", OrderID: orderID}, nil
		},
	}
	svc := newReturnService(t, returns, &stubOrderRepo{}, nil)

	_, err := svc.FileReturn(context.Background(), validFileReturn())
	if !errors.Is(err, ErrReturnDuplicate) {
		t.Fatalf("expected ErrReturnDuplicate, got %v", err)
	}
}

func TestFileReturnRejectsMissingOrder(t *testing.T) {
	svc := newReturnService(t, &stubReturnRepo{}, &stubOrderRepo{}, nil)
	_, err := svc.FileReturn(context.Background(), validFileReturn())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestFileReturnRejectsUndeliveredOrder(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusDelivering,
		domain.OrderStatusReturned,
	} {
		orders := &stubOrderRepo{
			findFn: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, Status: status}, nil
			},
		}
		inserts := 0
		returns := &stubReturnRepo{
			insertFn: func(ctx context.Context, request domain.ReturnRequest) error {
				inserts++
				return nil
			},
		}
		svc := newReturnService(t, returns, orders, nil)

		_, err := svc.FileReturn(context.Background(), validFileReturn())
		if !errors.Is(err, ErrReturnInvalidState) {
			t.Fatalf("status %q: expected ErrReturnInvalidState, got %v", status, err)
		}
		if inserts != 0 {
			t.Fatalf("status %q: return persisted despite invalid state", status)
		}
	}
}

func TestFileReturnSanitisesReason(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusDelivered}, nil
		},
	}
	var saved domain.ReturnRequest
	returns := &stubReturnRepo{
		insertFn: func(ctx context.Context, request domain.ReturnRequest) error {
			saved = request
			return nil
		},
	}
	events := &stubEvents{}
	svc := newReturnService(t, returns, orders, events)

	cmd := validFileReturn()
	cmd.Reason = `Bị vỡ <script>alert("x")</script> khi giao`
	request, err := svc.FileReturn(context.Background(), cmd)
	if err != nil {
		t.Fatalf("FileReturn: %v", err)
	}
	if strings.Contains(saved.Reason, "<script>") {
		t.Fatalf("reason not sanitised: %q", saved.Reason)
	}
	if saved.Confirmed {
		t.Fatalf("new return must start unconfirmed")
	}
	if request.OrderID != "ord_1" {
		t.Fatalf("order id = %q", request.OrderID)
	}
	if len(events.events) != 1 || events.events[0].name != "order.return.requested" {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestConfirmReturnFlipsOrderToReturned(t *testing.T) {
	returns := &stubReturnRepo{
		findFn: func(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{ID: returnID, OrderID: "ord_1"}, nil
		},
	}
	var savedReturn domain.ReturnRequest
	returns.updateFn = func(ctx context.Context, request domain.ReturnRequest) error {
		savedReturn = request
		return nil
	}
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:     orderID,
				Status: domain.OrderStatusDelivered,
				StatusHistory: []domain.StatusEntry{
					{Status: domain.OrderStatusProcessing, At: fixedClock()},
					{Status: domain.OrderStatusDelivered, At: fixedClock()},
				},
			}, nil
		},
	}
	var savedOrder domain.Order
	orders.updateFn = func(ctx context.Context, order domain.Order) error {
		savedOrder = order
		return nil
	}
	svc := newReturnService(t, returns, orders, nil)

	confirmed, err := svc.ConfirmReturn(context.Background(), "ret_1")
	if err != nil {
		t.Fatalf("ConfirmReturn: %v", err)
	}
	if !confirmed.Confirmed || !savedReturn.Confirmed {
		t.Fatalf("confirmation flag not set")
	}
	if savedOrder.Status != domain.OrderStatusReturned {
		t.Fatalf("order status = %q, want returned", savedOrder.Status)
	}
	last := savedOrder.StatusHistory[len(savedOrder.StatusHistory)-1]
	if last.Status != domain.OrderStatusReturned {
		t.Fatalf("last history entry = %q", last.Status)
	}
}

func TestConfirmReturnRejectsRepeatConfirmation(t *testing.T) {
	returns := &stubReturnRepo{
		findFn: func(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{ID: returnID, OrderID: "ord_1", Confirmed: true}, nil
		},
	}
	svc := newReturnService(t, returns, &stubOrderRepo{}, nil)

	_, err := svc.ConfirmReturn(context.Background(), "ret_1")
	if !errors.Is(err, ErrReturnAlreadyConfirmed) {
		t.Fatalf("expected ErrReturnAlreadyConfirmed, got %v", err)
	}
}

type stubQuoter struct {
	location   shipping.Location
	total      int64
	resolveErr error
	feeErr     error
}

func (s *stubQuoter) ResolveAddress(ctx context.Context, address string) (shipping.Location, error) {
	if s.resolveErr != nil {
		return shipping.Location{}, s.resolveErr
	}
	return s.location, nil
}

func (s *stubQuoter) QuoteFee(ctx context.Context, req shipping.FeeRequest) (int64, error) {
	if s.feeErr != nil {
		return 0, s.feeErr
	}
	return s.total, nil
}

func TestQuoteReturnsCarrierTotal(t *testing.T) {
	svc, err := NewShippingQuoteService(&stubQuoter{
		location: shipping.Location{District: shipping.District{DistrictID: 1442}, WardCode: "21211"},
		total:    36500,
	}, nil)
	if err != nil {
		t.Fatalf("NewShippingQuoteService: %v", err)
	}
	total, err := svc.Quote(context.Background(), "Phường Bến Nghé, Quận 1, Hồ Chí Minh")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if total != 36500 {
		t.Fatalf("total = %d, want 36500", total)
	}
}

func TestQuoteClassifiesFailures(t *testing.T) {
	svc, err := NewShippingQuoteService(&stubQuoter{resolveErr: shipping.ErrAddressNotFound}, nil)
	if err != nil {
		t.Fatalf("NewShippingQuoteService: %v", err)
	}
	if _, err := svc.Quote(context.Background(), "nowhere"); !errors.Is(err, ErrAddressUnresolved) {
		t.Fatalf("expected ErrAddressUnresolved, got %v", err)
	}

	svc, err = NewShippingQuoteService(&stubQuoter{feeErr: shipping.ErrCarrierRejected}, nil)
	if err != nil {
		t.Fatalf("NewShippingQuoteService: %v", err)
	}
	if _, err := svc.Quote(context.Background(), "somewhere"); !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable, got %v", err)
	}
}
