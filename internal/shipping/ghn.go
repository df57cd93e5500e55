package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DawnBreaker207/Graduate-Project/internal/platform/config"
)

// ErrCarrierRejected is returned when the carrier answers with a non-success
// business code. HTTP 200 with code != 200 still means the operation failed.
var ErrCarrierRejected = errors.New("shipping: carrier rejected request")

// ErrAddressNotFound is returned when an address cannot be resolved to
// carrier district and ward codes.
var ErrAddressNotFound = errors.New("shipping: address not found")

// Logger defines the logging contract for carrier operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Client talks to the GHN gateway. Credentials come from configuration, never
// from process environment lookups inside the client.
type Client struct {
	baseURL string
	token   string
	shopID  string
	name    string
	http    *http.Client
	logger  Logger
}

// NewClient constructs a GHN Client from carrier configuration.
func NewClient(cfg config.CarrierConfig, httpClient *http.Client, logger Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("shipping: carrier base url is required")
	}
	if cfg.Token == "" || cfg.ShopID == "" {
		return nil, errors.New("shipping: carrier credentials are required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	name := cfg.Name
	if name == "" {
		name = "Giao hàng nhanh"
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		shopID:  cfg.ShopID,
		name:    name,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// CarrierName returns the display name stored on shipping records.
func (c *Client) CarrierName() string {
	return c.name
}

type ghnEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FeeRequest identifies the delivery destination for a fee quote.
type FeeRequest struct {
	ToDistrictID int
	ToWardCode   string
}

type feePayload struct {
	FromDistrictID  int     `json:"from_district_id"`
	FromWardCode    string  `json:"from_ward_code"`
	ServiceID       int     `json:"service_id"`
	ServiceTypeID   *int    `json:"service_type_id"`
	ToDistrictID    int     `json:"to_district_id"`
	ToWardCode      string  `json:"to_ward_code"`
	Height          int     `json:"height"`
	Length          int     `json:"length"`
	Weight          int     `json:"weight"`
	Width           int     `json:"width"`
	InsuranceValue  int     `json:"insurance_value"`
	CodFailedAmount int     `json:"cod_failed_amount"`
	Coupon          *string `json:"coupon"`
}

type feeResult struct {
	Total int64 `json:"total"`
}

// QuoteFee asks the carrier for the delivery fee to the given destination.
// Parcel dimensions are fixed by the shop's carrier contract.
func (c *Client) QuoteFee(ctx context.Context, req FeeRequest) (int64, error) {
	payload := feePayload{
		FromDistrictID:  1915,
		FromWardCode:    "1B2128",
		ServiceID:       53320,
		ToDistrictID:    req.ToDistrictID,
		ToWardCode:      req.ToWardCode,
		Height:          50,
		Length:          20,
		Weight:          200,
		Width:           20,
		InsuranceValue:  10000,
		CodFailedAmount: 2000,
	}
	var result feeResult
	if err := c.post(ctx, "/shiip/public-api/v2/shipping-order/fee", payload, &result); err != nil {
		return 0, err
	}
	c.logger(ctx, "shipping.ghn.fee.quoted", map[string]any{
		"toDistrictId": req.ToDistrictID,
		"toWardCode":   req.ToWardCode,
		"total":        result.Total,
	})
	return result.Total, nil
}

// BookingItem describes one order line on a carrier booking.
type BookingItem struct {
	SKUID    string `json:"sku_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// BookingRequest carries the recipient and parcel details for a carrier booking.
type BookingRequest struct {
	ToName       string
	ToPhone      string
	ToAddress    string
	ToWardCode   string
	ToDistrictID int
	Content      string
	Items        []BookingItem
}

type bookingPayload struct {
	ToName        string        `json:"to_name"`
	ToPhone       string        `json:"to_phone"`
	ToAddress     string        `json:"to_address"`
	ToWardCode    string        `json:"to_ward_code"`
	ToDistrictID  int           `json:"to_district_id"`
	Content       string        `json:"content"`
	Weight        int           `json:"weight"`
	Length        int           `json:"length"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	ServiceTypeID int           `json:"service_type_id"`
	ServiceID     int           `json:"service_id"`
	PaymentTypeID int           `json:"payment_type_id"`
	RequiredNote  string        `json:"required_note"`
	Items         []BookingItem `json:"Items"`
	Name          string        `json:"name"`
	Quantity      int           `json:"quantity"`
}

type bookingResult struct {
	OrderCode            string    `json:"order_code"`
	ExpectedDeliveryTime time.Time `json:"expected_delivery_time"`
}

// Booking is the carrier's confirmation of a shipping order.
type Booking struct {
	OrderCode            string
	ExpectedDeliveryTime time.Time
}

// CreateBooking registers a shipping order with the carrier and returns the
// tracking code with the promised delivery time.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (Booking, error) {
	payload := bookingPayload{
		ToName:        req.ToName,
		ToPhone:       req.ToPhone,
		ToAddress:     req.ToAddress,
		ToWardCode:    req.ToWardCode,
		ToDistrictID:  req.ToDistrictID,
		Content:       req.Content,
		Weight:        10,
		Length:        100,
		Width:         90,
		Height:        75,
		ServiceTypeID: 2,
		ServiceID:     53319,
		PaymentTypeID: 1,
		RequiredNote:  "CHOXEMHANGKHONGTHU",
		Items:         req.Items,
		Name:          "Đồ nội thất",
		Quantity:      len(req.Items),
	}
	var result bookingResult
	if err := c.post(ctx, "/shiip/public-api/v2/shipping-order/create", payload, &result); err != nil {
		return Booking{}, err
	}
	if result.OrderCode == "" {
		return Booking{}, fmt.Errorf("%w: booking response missing order code", ErrCarrierRejected)
	}
	c.logger(ctx, "shipping.ghn.booking.created", map[string]any{
		"orderCode":        result.OrderCode,
		"expectedDelivery": result.ExpectedDeliveryTime,
	})
	return Booking{
		OrderCode:            result.OrderCode,
		ExpectedDeliveryTime: result.ExpectedDeliveryTime,
	}, nil
}

// Ping verifies the gateway is reachable and the credentials are accepted by
// fetching the province master data.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/shiip/public-api/master-data/province")
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shipping: encode carrier request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shipping: build carrier request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("shipping: build carrier request: %w", err)
	}
	c.setHeaders(req)
	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)
	req.Header.Set("ShopId", c.shopID)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shipping: carrier request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope ghnEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("shipping: decode carrier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || envelope.Code != http.StatusOK {
		return fmt.Errorf("%w: code %d: %s", ErrCarrierRejected, envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("shipping: decode carrier payload: %w", err)
		}
	}
	return nil
}
