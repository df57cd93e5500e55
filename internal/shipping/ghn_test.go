package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DawnBreaker207/Graduate-Project/internal/platform/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(config.CarrierConfig{
		BaseURL: server.URL,
		Token:   "test-token",
		ShopID:  "12345",
	}, server.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Errorf("marshal data: %v", err)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": "Success",
		"data":    json.RawMessage(payload),
	})
}

func TestFoldName(t *testing.T) {
	cases := map[string]string{
		"Phường Bến Nghé":  "phuong ben nghe",
		"Quận  1":          "quan 1",
		"Đà Nẵng":          "da nang",
		"Thành phố Hà Nội": "thanh pho ha noi",
	}
	for input, want := range cases {
		if got := foldName(input); got != want {
			t.Fatalf("foldName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestResolveAddress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shiip/public-api/master-data/province", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Token") != "test-token" {
			t.Errorf("missing carrier token header")
		}
		writeEnvelope(t, w, 200, []ghnProvince{
			{ProvinceID: 201, ProvinceName: "Hà Nội"},
			{ProvinceID: 202, ProvinceName: "Hồ Chí Minh", NameExtension: []string{"TP. Hồ Chí Minh", "Sài Gòn"}},
		})
	})
	mux.HandleFunc("/shiip/public-api/master-data/district", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("province_id"); got != "202" {
			t.Errorf("province_id = %q, want 202", got)
		}
		writeEnvelope(t, w, 200, []ghnDistrict{
			{DistrictID: 1442, DistrictName: "Quận 1"},
			{DistrictID: 1443, DistrictName: "Quận 3"},
		})
	})
	mux.HandleFunc("/shiip/public-api/master-data/ward", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("district_id"); got != "1442" {
			t.Errorf("district_id = %q, want 1442", got)
		}
		writeEnvelope(t, w, 200, []ghnWard{
			{WardCode: "21211", WardName: "Phường Bến Nghé"},
			{WardCode: "21212", WardName: "Phường Bến Thành"},
		})
	})
	client, _ := newTestClient(t, mux)

	location, err := client.ResolveAddress(context.Background(), "12 Lê Lợi, Phường Bến Nghé, Quận 1, Sài Gòn")
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	if location.District.DistrictID != 1442 {
		t.Fatalf("district id = %d, want 1442", location.District.DistrictID)
	}
	if location.WardCode != "21211" {
		t.Fatalf("ward code = %q, want 21211", location.WardCode)
	}
}

func TestResolveAddressUnknownWard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shiip/public-api/master-data/province", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, []ghnProvince{{ProvinceID: 201, ProvinceName: "Hà Nội"}})
	})
	mux.HandleFunc("/shiip/public-api/master-data/district", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, []ghnDistrict{{DistrictID: 1488, DistrictName: "Hoàn Kiếm"}})
	})
	mux.HandleFunc("/shiip/public-api/master-data/ward", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, []ghnWard{{WardCode: "00001", WardName: "Hàng Trống"}})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.ResolveAddress(context.Background(), "Phường Nào Đó, Hoàn Kiếm, Hà Nội")
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestQuoteFee(t *testing.T) {
	var payload feePayload
	mux := http.NewServeMux()
	mux.HandleFunc("/shiip/public-api/v2/shipping-order/fee", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode fee payload: %v", err)
		}
		writeEnvelope(t, w, 200, feeResult{Total: 36500})
	})
	client, _ := newTestClient(t, mux)

	total, err := client.QuoteFee(context.Background(), FeeRequest{ToDistrictID: 1442, ToWardCode: "21211"})
	if err != nil {
		t.Fatalf("QuoteFee: %v", err)
	}
	if total != 36500 {
		t.Fatalf("total = %d, want 36500", total)
	}
	if payload.FromDistrictID != 1915 || payload.FromWardCode != "1B2128" {
		t.Fatalf("unexpected origin: %+v", payload)
	}
	if payload.ServiceID != 53320 || payload.Weight != 200 || payload.InsuranceValue != 10000 {
		t.Fatalf("unexpected parcel parameters: %+v", payload)
	}
}

func TestCreateBooking(t *testing.T) {
	expected := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	var payload bookingPayload
	mux := http.NewServeMux()
	mux.HandleFunc("/shiip/public-api/v2/shipping-order/create", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("ShopId") != "12345" {
			t.Errorf("missing ShopId header")
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode booking payload: %v", err)
		}
		writeEnvelope(t, w, 200, bookingResult{OrderCode: "GHN123", ExpectedDeliveryTime: expected})
	})
	client, _ := newTestClient(t, mux)

	booking, err := client.CreateBooking(context.Background(), BookingRequest{
		ToName:       "Nguyễn Văn A",
		ToPhone:      "0900000000",
		ToAddress:    "12 Lê Lợi, Phường Bến Nghé, Quận 1, Sài Gòn",
		ToWardCode:   "21211",
		ToDistrictID: 1442,
		Content:      "Giao trong giờ hành chính",
		Items: []BookingItem{
			{SKUID: "sku-1", Name: "Ghế gỗ", Price: 250000, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if booking.OrderCode != "GHN123" {
		t.Fatalf("order code = %q", booking.OrderCode)
	}
	if !booking.ExpectedDeliveryTime.Equal(expected) {
		t.Fatalf("expected delivery = %v", booking.ExpectedDeliveryTime)
	}
	if payload.ServiceID != 53319 || payload.ServiceTypeID != 2 || payload.PaymentTypeID != 1 {
		t.Fatalf("unexpected service parameters: %+v", payload)
	}
	if payload.RequiredNote != "CHOXEMHANGKHONGTHU" {
		t.Fatalf("required note = %q", payload.RequiredNote)
	}
	if payload.Quantity != 1 {
		t.Fatalf("quantity = %d, want item count", payload.Quantity)
	}
}

func TestBusinessCodeFailureRejectsBooking(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shiip/public-api/v2/shipping-order/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":    400,
			"message": "service unavailable in area",
		})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.CreateBooking(context.Background(), BookingRequest{ToDistrictID: 1, ToWardCode: "x"})
	if !errors.Is(err, ErrCarrierRejected) {
		t.Fatalf("expected ErrCarrierRejected, got %v", err)
	}
}
