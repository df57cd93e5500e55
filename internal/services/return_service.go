package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

var (
	errReturnRepositoriesRequired = errors.New("return service: repositories are required")
	errReturnClockRequired        = errors.New("return service: clock is required")
)

// ErrReturnInvalidInput indicates the caller supplied invalid input.
var ErrReturnInvalidInput = errors.New("return service: invalid input")

// ErrReturnUnavailable indicates a backend failure the caller cannot fix.
var ErrReturnUnavailable = errors.New("return service: unavailable")

// ErrReturnNotFound indicates the requested return request does not exist.
var ErrReturnNotFound = errors.New("return service: return not found")

// ErrReturnDuplicate indicates a return already exists for the order.
var ErrReturnDuplicate = errors.New("return service: return already filed for order")

// ErrReturnInvalidState indicates the order is not in the delivered state.
var ErrReturnInvalidState = errors.New("return service: order is not delivered")

// ErrReturnAlreadyConfirmed indicates the return was confirmed before.
var ErrReturnAlreadyConfirmed = errors.New("return service: return already confirmed")

// ReturnServiceDeps wires the repositories for the returns workflow.
type ReturnServiceDeps struct {
	Returns repositories.ReturnRepository
	Orders  repositories.OrderRepository
	Tx      repositories.UnitOfWork
	Events  EventPublisher

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type returnService struct {
	returns repositories.ReturnRepository
	orders  repositories.OrderRepository
	tx      repositories.UnitOfWork
	events  EventPublisher

	sanitizer *bluemonday.Policy
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewReturnService constructs a ReturnService enforcing dependency validation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil || deps.Orders == nil || deps.Tx == nil {
		return nil, errReturnRepositoriesRequired
	}
	if deps.Clock == nil {
		return nil, errReturnClockRequired
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
	return &returnService{
		returns:   deps.Returns,
		orders:    deps.Orders,
		tx:        deps.Tx,
		events:    events,
		sanitizer: bluemonday.StrictPolicy(),
		now:       func() time.Time { return deps.Clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// FileReturn records a customer return request. Allowed only for delivered
// orders, at most once per order. The order status itself is untouched until
// an admin confirms the return.
func (s *returnService) FileReturn(ctx context.Context, cmd FileReturnCommand) (domain.ReturnRequest, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerName) == "" || strings.TrimSpace(cmd.PhoneNumber) == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: customer name and phone number are required", ErrReturnInvalidInput)
	}

	_, err := s.returns.FindByOrder(ctx, cmd.OrderID)
	if err == nil {
		return domain.ReturnRequest{}, ErrReturnDuplicate
	}
	if !isRepoNotFound(err) {
		return domain.ReturnRequest{}, s.translateError(err)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.ReturnRequest{}, ErrOrderNotFound
		}
		return domain.ReturnRequest{}, s.translateError(err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return domain.ReturnRequest{}, fmt.Errorf("%w: status is %q", ErrReturnInvalidState, order.Status)
	}

	request := domain.ReturnRequest{
		ID:           "ret_" + s.newID(),
		OrderID:      cmd.OrderID,
		Reason:       strings.TrimSpace(s.sanitizer.Sanitize(cmd.Reason)),
		CustomerName: strings.TrimSpace(cmd.CustomerName),
		PhoneNumber:  strings.TrimSpace(cmd.PhoneNumber),
		Images:       cmd.Images,
		Confirmed:    false,
		CreatedAt:    s.now(),
	}
	if err := s.returns.Insert(ctx, request); err != nil {
		return domain.ReturnRequest{}, s.translateError(err)
	}

	s.events.Publish(ctx, "order.return.requested", map[string]any{
		"orderId":  request.OrderID,
		"returnId": request.ID,
	})
	return request, nil
}

// ListReturns returns return requests matching the query with cursor pagination.
func (s *returnService) ListReturns(ctx context.Context, query ListReturnsQuery) (domain.CursorPage[domain.ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		Confirmed:   query.Confirmed,
		PhoneNumber: strings.TrimSpace(query.PhoneNumber),
		Pagination:  query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, s.translateError(err)
	}
	return page, nil
}

// ConfirmReturn flips the confirmation flag and moves the order to returned.
// Both writes share one transaction.
func (s *returnService) ConfirmReturn(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if strings.TrimSpace(returnID) == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	now := s.now()
	var confirmed domain.ReturnRequest
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		request, err := s.returns.FindByID(ctx, returnID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrReturnNotFound
			}
			return err
		}
		if request.Confirmed {
			return ErrReturnAlreadyConfirmed
		}
		order, err := s.orders.FindByID(ctx, request.OrderID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status != domain.OrderStatusDelivered {
			return fmt.Errorf("%w: status is %q", ErrReturnInvalidState, order.Status)
		}

		request.Confirmed = true
		order.Status = domain.OrderStatusReturned
		order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{Status: domain.OrderStatusReturned, At: now})
		order.UpdatedAt = now

		if err := s.returns.Update(ctx, request); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		confirmed = request
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, s.translateError(err)
	}

	s.events.Publish(ctx, "order.status.changed", map[string]any{
		"orderId": confirmed.OrderID,
		"status":  string(domain.OrderStatusReturned),
	})
	return confirmed, nil
}

func (s *returnService) translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrReturnInvalidInput),
		errors.Is(err, ErrReturnNotFound),
		errors.Is(err, ErrReturnDuplicate),
		errors.Is(err, ErrReturnInvalidState),
		errors.Is(err, ErrReturnAlreadyConfirmed),
		errors.Is(err, ErrOrderNotFound):
		return err
	case isRepoNotFound(err):
		return ErrReturnNotFound
	default:
		return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
	}
}
