package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DawnBreaker207/Graduate-Project/internal/shipping"
)

// ErrQuoteInvalidInput indicates the caller supplied an unusable address.
var ErrQuoteInvalidInput = errors.New("shipping quote: invalid input")

// ErrAddressUnresolved indicates the address matched no carrier district/ward.
var ErrAddressUnresolved = errors.New("shipping quote: address could not be resolved")

// ErrCarrierUnavailable indicates the carrier rejected or failed the request.
var ErrCarrierUnavailable = errors.New("shipping quote: carrier unavailable")

type feeQuoter interface {
	ResolveAddress(ctx context.Context, address string) (shipping.Location, error)
	QuoteFee(ctx context.Context, req shipping.FeeRequest) (int64, error)
}

type shippingQuoteService struct {
	carrier feeQuoter
	logger  func(context.Context, string, map[string]any)
}

// NewShippingQuoteService constructs a ShippingQuoteService over the carrier client.
func NewShippingQuoteService(carrier feeQuoter, logger func(context.Context, string, map[string]any)) (ShippingQuoteService, error) {
	if carrier == nil {
		return nil, errors.New("shipping quote: carrier client is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingQuoteService{carrier: carrier, logger: logger}, nil
}

// Quote resolves the address to carrier codes and prices the delivery.
func (s *shippingQuoteService) Quote(ctx context.Context, address string) (int64, error) {
	if strings.TrimSpace(address) == "" {
		return 0, fmt.Errorf("%w: address is required", ErrQuoteInvalidInput)
	}
	location, err := s.carrier.ResolveAddress(ctx, address)
	if err != nil {
		if errors.Is(err, shipping.ErrAddressNotFound) {
			return 0, fmt.Errorf("%w: %v", ErrAddressUnresolved, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
	}
	total, err := s.carrier.QuoteFee(ctx, shipping.FeeRequest{
		ToDistrictID: location.District.DistrictID,
		ToWardCode:   location.WardCode,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
	}
	s.logger(ctx, "shipping.quote.calculated", map[string]any{
		"districtId": location.District.DistrictID,
		"wardCode":   location.WardCode,
		"total":      total,
	})
	return total, nil
}
