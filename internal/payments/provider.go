package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
)

// ErrUnsupportedMethod is returned when no provider is registered for a payment method.
var ErrUnsupportedMethod = errors.New("payments: unsupported payment method")

// InitiateRequest captures the payload required to open a payment session with a gateway.
type InitiateRequest struct {
	OrderID        string
	Amount         int64
	OrderInfo      string
	ReturnURL      string
	NotifyURL      string
	ClientIP       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Session represents the gateway session handed back to the client.
type Session struct {
	Method      domain.PaymentMethodTag
	RedirectURL string
	IntentID    string
	Raw         map[string]any
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	Initiate(ctx context.Context, req InitiateRequest) (Session, error)
}

// Describe returns the canonical payment descriptor for a method. The method set is
// closed; anything outside it is rejected here rather than at the storage layer.
func Describe(tag domain.PaymentMethodTag) (domain.PaymentDescriptor, error) {
	switch tag {
	case domain.PaymentMethodCash:
		return domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodCash,
			Label:       "Thanh toán khi nhận hàng",
			Status:      domain.PaymentStatusUnpaid,
			OrderInfo:   "Thanh toán trực tiếp",
			OrderType:   "cash",
			PartnerCode: "TIENMAT",
		}, nil
	case domain.PaymentMethodMomo:
		return domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodMomo,
			Label:       "Thanh toán qua ví MOMO",
			Status:      domain.PaymentStatusUnpaid,
			OrderInfo:   "Thanh toán qua MOMO",
			OrderType:   "bank_transfer",
			PartnerCode: "BANKTRANSFER",
		}, nil
	case domain.PaymentMethodVNPay:
		return domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodVNPay,
			Label:       "Thanh toán qua VNPAY",
			Status:      domain.PaymentStatusUnpaid,
			OrderInfo:   "Thanh toán qua VNPAY",
			OrderType:   "vnpay",
			PartnerCode: "VNPAY",
		}, nil
	case domain.PaymentMethodZaloPay:
		return domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodZaloPay,
			Label:       "Thanh toán qua ZALOPAY",
			Status:      domain.PaymentStatusUnpaid,
			OrderInfo:   "Thanh toán qua ZALOPAY",
			OrderType:   "zalopay",
			PartnerCode: "ZALOPAY",
		}, nil
	case domain.PaymentMethodCard:
		return domain.PaymentDescriptor{
			Tag:         domain.PaymentMethodCard,
			Label:       "Thanh toán qua thẻ quốc tế",
			Status:      domain.PaymentStatusUnpaid,
			OrderInfo:   "Thanh toán qua Stripe",
			OrderType:   "card",
			PartnerCode: "CARD",
		}, nil
	default:
		return domain.PaymentDescriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, tag)
	}
}

// Manager pairs descriptors with their gateway adapters. Cash needs no adapter since
// settlement happens on delivery and no redirect is involved.
type Manager struct {
	providers map[domain.PaymentMethodTag]Provider
}

// NewManager constructs a Manager over the supplied adapters.
func NewManager(providers map[domain.PaymentMethodTag]Provider) (*Manager, error) {
	copyMap := make(map[domain.PaymentMethodTag]Provider, len(providers))
	for tag, provider := range providers {
		if provider == nil {
			return nil, fmt.Errorf("payments: nil provider registered for %q", tag)
		}
		if _, err := Describe(tag); err != nil {
			return nil, err
		}
		if tag == domain.PaymentMethodCash {
			return nil, errors.New("payments: cash does not take a gateway adapter")
		}
		copyMap[tag] = provider
	}
	return &Manager{providers: copyMap}, nil
}

// Resolve returns the descriptor for the method and, for online methods, opens a
// gateway session. Cash resolves to its descriptor with no session.
func (m *Manager) Resolve(ctx context.Context, tag domain.PaymentMethodTag, req InitiateRequest) (domain.PaymentDescriptor, *Session, error) {
	if m == nil {
		return domain.PaymentDescriptor{}, nil, errors.New("payments: manager is nil")
	}
	descriptor, err := Describe(tag)
	if err != nil {
		return domain.PaymentDescriptor{}, nil, err
	}
	if tag == domain.PaymentMethodCash {
		return descriptor, nil, nil
	}
	provider, ok := m.providers[tag]
	if !ok {
		return domain.PaymentDescriptor{}, nil, fmt.Errorf("%w: no adapter for %q", ErrUnsupportedMethod, tag)
	}
	if strings.TrimSpace(req.OrderInfo) == "" {
		req.OrderInfo = descriptor.OrderInfo
	}
	session, err := provider.Initiate(ctx, req)
	if err != nil {
		return domain.PaymentDescriptor{}, nil, err
	}
	session.Method = tag
	return descriptor, &session, nil
}
