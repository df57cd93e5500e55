package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// District identifies a carrier district.
type District struct {
	DistrictID   int    `json:"DistrictID"`
	DistrictName string `json:"DistrictName"`
}

// Location is a resolved delivery destination in the carrier's master data.
type Location struct {
	District District
	WardCode string
}

type ghnProvince struct {
	ProvinceID    int      `json:"ProvinceID"`
	ProvinceName  string   `json:"ProvinceName"`
	NameExtension []string `json:"NameExtension"`
}

type ghnDistrict struct {
	DistrictID    int      `json:"DistrictID"`
	DistrictName  string   `json:"DistrictName"`
	NameExtension []string `json:"NameExtension"`
}

type ghnWard struct {
	WardCode      string   `json:"WardCode"`
	WardName      string   `json:"WardName"`
	NameExtension []string `json:"NameExtension"`
}

// ResolveAddress maps a free-form "ward, district, province" address onto the
// carrier's district id and ward code. Segments are matched from the end so a
// leading street part is tolerated.
func (c *Client) ResolveAddress(ctx context.Context, address string) (Location, error) {
	parts := splitAddress(address)
	if len(parts) < 3 {
		return Location{}, fmt.Errorf("%w: need ward, district and province in %q", ErrAddressNotFound, address)
	}
	provinceName := parts[len(parts)-1]
	districtName := parts[len(parts)-2]
	wardName := parts[len(parts)-3]

	province, err := c.findProvince(ctx, provinceName)
	if err != nil {
		return Location{}, err
	}
	district, err := c.findDistrict(ctx, province.ProvinceID, districtName)
	if err != nil {
		return Location{}, err
	}
	wardCode, err := c.findWard(ctx, district.DistrictID, wardName)
	if err != nil {
		return Location{}, err
	}
	return Location{
		District: District{DistrictID: district.DistrictID, DistrictName: district.DistrictName},
		WardCode: wardCode,
	}, nil
}

func (c *Client) findProvince(ctx context.Context, name string) (ghnProvince, error) {
	raw, err := c.get(ctx, "/shiip/public-api/master-data/province")
	if err != nil {
		return ghnProvince{}, err
	}
	var provinces []ghnProvince
	if err := json.Unmarshal(raw, &provinces); err != nil {
		return ghnProvince{}, fmt.Errorf("shipping: decode province list: %w", err)
	}
	want := foldName(name)
	for _, p := range provinces {
		if matchesName(want, p.ProvinceName, p.NameExtension) {
			return p, nil
		}
	}
	return ghnProvince{}, fmt.Errorf("%w: province %q", ErrAddressNotFound, name)
}

func (c *Client) findDistrict(ctx context.Context, provinceID int, name string) (ghnDistrict, error) {
	raw, err := c.get(ctx, fmt.Sprintf("/shiip/public-api/master-data/district?province_id=%d", provinceID))
	if err != nil {
		return ghnDistrict{}, err
	}
	var districts []ghnDistrict
	if err := json.Unmarshal(raw, &districts); err != nil {
		return ghnDistrict{}, fmt.Errorf("shipping: decode district list: %w", err)
	}
	want := foldName(name)
	for _, d := range districts {
		if matchesName(want, d.DistrictName, d.NameExtension) {
			return d, nil
		}
	}
	return ghnDistrict{}, fmt.Errorf("%w: district %q", ErrAddressNotFound, name)
}

func (c *Client) findWard(ctx context.Context, districtID int, name string) (string, error) {
	raw, err := c.get(ctx, fmt.Sprintf("/shiip/public-api/master-data/ward?district_id=%d", districtID))
	if err != nil {
		return "", err
	}
	var wards []ghnWard
	if err := json.Unmarshal(raw, &wards); err != nil {
		return "", fmt.Errorf("shipping: decode ward list: %w", err)
	}
	want := foldName(name)
	for _, w := range wards {
		if matchesName(want, w.WardName, w.NameExtension) {
			return w.WardCode, nil
		}
	}
	return "", fmt.Errorf("%w: ward %q", ErrAddressNotFound, name)
}

func splitAddress(address string) []string {
	raw := strings.Split(address, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func matchesName(want, name string, extensions []string) bool {
	if foldName(name) == want {
		return true
	}
	for _, ext := range extensions {
		if foldName(ext) == want {
			return true
		}
	}
	return false
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName lowercases and strips diacritics so "Phường Bến Nghé" matches
// "phuong ben nghe". Đ/đ fall outside the combining-mark range and are mapped
// by hand.
func foldName(name string) string {
	folded, _, err := transform.String(diacriticFolder, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.ReplaceAll(folded, "đ", "d")
	return strings.Join(strings.Fields(folded), " ")
}
