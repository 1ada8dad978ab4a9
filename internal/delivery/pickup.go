package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PickupPoint is a parcel locker or shop where a delivery type can drop goods.
type PickupPoint struct {
	ID             int64
	DeliveryTypeID int64
	Title          string
	Address        string
	ZipCode        string
	Country        string
	Latitude       string
	Longitude      string
	Active         bool
}

// Fetcher retrieves and decodes a remote JSON document.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// Feed is a carrier's public list of pickup points.
type Feed interface {
	Name() string
	Points(ctx context.Context, f Fetcher) ([]PickupPoint, error)
}

// OmnivaFeed reads the Omniva locations export.
type OmnivaFeed struct {
	URL string
}

type omnivaLocation struct {
	Name string `json:"NAME"`
	Zip  string `json:"ZIP"`
	Type string `json:"TYPE"`
	A0   string `json:"A0_NAME"`
	A1   string `json:"A1_NAME"`
	A2   string `json:"A2_NAME"`
	X    string `json:"X_COORDINATE"`
	Y    string `json:"Y_COORDINATE"`
}

func (OmnivaFeed) Name() string { return "omniva" }

// Points returns parcel machines only (TYPE 0).
func (o OmnivaFeed) Points(ctx context.Context, f Fetcher) ([]PickupPoint, error) {
	url := o.URL
	if url == "" {
		url = "https://www.omniva.ee/locations.json"
	}
	var rows []omnivaLocation
	if err := f.GetJSON(ctx, url, &rows); err != nil {
		return nil, fmt.Errorf("omniva feed: %w", err)
	}
	out := make([]PickupPoint, 0, len(rows))
	for _, row := range rows {
		if row.Type != "0" {
			continue
		}
		out = append(out, PickupPoint{
			Title:     row.Name,
			Address:   omnivaAddress(row),
			ZipCode:   row.Zip,
			Country:   row.A0,
			Latitude:  row.Y,
			Longitude: row.X,
			Active:    true,
		})
	}
	return out, nil
}

func omnivaAddress(row omnivaLocation) string {
	if row.A2 == "" || row.A2 == "NULL" {
		return row.A1
	}
	return row.A1 + ", " + strings.ReplaceAll(row.A2, ", "+row.A1, "")
}

// DPDFeed reads the DPD Baltics parcel shop export.
type DPDFeed struct {
	URL string
}

type dpdShop struct {
	ZipCode     string `json:"zipCode"`
	CompanyName string `json:"companyName"`
	Street      string `json:"street"`
	CountryCode string `json:"countryCode"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
}

func (DPDFeed) Name() string { return "dpd" }

func (d DPDFeed) Points(ctx context.Context, f Fetcher) ([]PickupPoint, error) {
	url := d.URL
	if url == "" {
		url = "http://ftp.dpdbaltics.com/PickupParcelShopData.json"
	}
	var rows []dpdShop
	if err := f.GetJSON(ctx, url, &rows); err != nil {
		return nil, fmt.Errorf("dpd feed: %w", err)
	}
	out := make([]PickupPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, PickupPoint{
			Title:     row.CompanyName,
			Address:   row.Street,
			ZipCode:   row.ZipCode,
			Country:   row.CountryCode,
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
			Active:    true,
		})
	}
	return out, nil
}

// FeedByName returns the feed registered under name.
func FeedByName(name string) (Feed, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "omniva":
		return OmnivaFeed{}, true
	case "dpd":
		return DPDFeed{}, true
	}
	return nil, false
}

// PickupStore persists pickup points for a delivery type.
type PickupStore interface {
	DeliveryType(ctx context.Context, id int64) (Type, error)
	ReplacePickupPoints(ctx context.Context, typeID int64, points []PickupPoint) error
}

// PickupSync refreshes a delivery type's pickup points from a carrier feed.
type PickupSync struct {
	Fetcher Fetcher
	Store   PickupStore
	Logger  zerolog.Logger
}

// Sync keeps points located in the countries the type serves, one per zip
// code, and replaces the stored set. Points missing from the feed end up
// inactive.
func (s PickupSync) Sync(ctx context.Context, typeID int64, feed Feed) (int, error) {
	t, err := s.Store.DeliveryType(ctx, typeID)
	if err != nil {
		return 0, fmt.Errorf("load delivery type %d: %w", typeID, err)
	}
	points, err := feed.Points(ctx, s.Fetcher)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(points))
	kept := make([]PickupPoint, 0, len(points))
	for _, p := range points {
		if p.ZipCode == "" || !t.Serves(p.Country) {
			continue
		}
		if _, dup := seen[p.ZipCode]; dup {
			continue
		}
		seen[p.ZipCode] = struct{}{}
		p.DeliveryTypeID = typeID
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		s.Logger.Warn().Str("feed", feed.Name()).Int64("delivery_type", typeID).Msg("pickup feed returned no usable points")
		return 0, nil
	}
	if err := s.Store.ReplacePickupPoints(ctx, typeID, kept); err != nil {
		return 0, fmt.Errorf("store pickup points: %w", err)
	}
	s.Logger.Info().Str("feed", feed.Name()).Int64("delivery_type", typeID).Int("points", len(kept)).Msg("pickup points synced")
	return len(kept), nil
}
