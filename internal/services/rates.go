package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/hanko-field/fulfillment/internal/domain"
)

// ShippingOption is a rate offered for a region, labelled with its zone.
type ShippingOption struct {
	ZoneID   string
	ZoneName string
	Rate     domain.ShippingRate
}

// RateResolver prices shipping and tax from an immutable settings snapshot. It holds no
// mutable state and is safe for concurrent use.
type RateResolver struct {
	settings domain.CommerceSettings
	regions  map[string]int
	catchAll int
}

// NewRateResolver indexes the zones of settings by folded region name.
func NewRateResolver(settings domain.CommerceSettings) *RateResolver {
	r := &RateResolver{
		settings: settings,
		regions:  make(map[string]int),
		catchAll: -1,
	}
	for i, zone := range settings.Shipping.Zones {
		if zone.ID == settings.Shipping.CatchAllZoneID {
			r.catchAll = i
		}
		for _, region := range zone.Regions {
			key := foldRegion(region)
			if _, exists := r.regions[key]; !exists {
				r.regions[key] = i
			}
		}
	}
	return r
}

// Currency returns the settings currency.
func (r *RateResolver) Currency() string {
	return r.settings.Currency
}

// RatesForRegion lists the active rates of the zone serving region.
func (r *RateResolver) RatesForRegion(region string) ([]ShippingOption, error) {
	zone, err := r.zoneFor(region)
	if err != nil {
		return nil, err
	}
	options := make([]ShippingOption, 0, len(zone.Rates))
	for _, rate := range zone.Rates {
		if !rate.Active {
			continue
		}
		options = append(options, ShippingOption{ZoneID: zone.ID, ZoneName: zone.Name, Rate: rate})
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: zone %s has no active rates", ErrNoShippingAvailable, zone.ID)
	}
	return options, nil
}

// SelectRate validates that rateID may ship to region.
func (r *RateResolver) SelectRate(region, rateID string) (ShippingOption, error) {
	rateID = strings.TrimSpace(rateID)
	if rateID == "" {
		return ShippingOption{}, fmt.Errorf("%w: shipping rate id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(region) == "" {
		return ShippingOption{}, fmt.Errorf("%w: shipping region is required", ErrInvalidInput)
	}

	served, err := r.zoneFor(region)
	if err != nil {
		return ShippingOption{}, err
	}

	for i, zone := range r.settings.Shipping.Zones {
		for _, rate := range zone.Rates {
			if rate.ID != rateID {
				continue
			}
			if zone.ID != served.ID && i != r.catchAll {
				return ShippingOption{}, fmt.Errorf("%w: rate %s belongs to zone %s", ErrShippingRegionMismatch, rateID, zone.ID)
			}
			if !zone.Active || !rate.Active {
				return ShippingOption{}, fmt.Errorf("%w: rate %s is inactive", ErrNoShippingAvailable, rateID)
			}
			return ShippingOption{ZoneID: zone.ID, ZoneName: zone.Name, Rate: rate}, nil
		}
	}
	return ShippingOption{}, fmt.Errorf("%w: %s", ErrShippingRateNotFound, rateID)
}

// Quote snapshots the selected rate for a basket subtotal, applying free shipping when the
// threshold is met.
func (r *RateResolver) Quote(option ShippingOption, subtotal int64) domain.ShippingMethod {
	method := domain.ShippingMethod{
		RateID:      option.Rate.ID,
		ZoneID:      option.ZoneID,
		Name:        option.Rate.Name,
		Description: option.Rate.Description,
		Price:       option.Rate.Price,
		Charged:     option.Rate.Price,
	}
	if threshold := option.Rate.FreeShippingThreshold; threshold > 0 && subtotal >= threshold {
		method.Charged = 0
		method.FreeShipping = true
	}
	return method
}

// ResolveShipping selects and quotes a rate in one step.
func (r *RateResolver) ResolveShipping(region, rateID string, subtotal int64) (domain.ShippingMethod, error) {
	option, err := r.SelectRate(region, rateID)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	return r.Quote(option, subtotal), nil
}

// ResolveTax returns the tax owed on subtotal and the rate applied.
func (r *RateResolver) ResolveTax(subtotal int64) (int64, decimal.Decimal) {
	tax := r.settings.Tax
	if !tax.Enabled || tax.Rate.IsZero() {
		return 0, decimal.Zero
	}
	return domain.PercentOf(subtotal, tax.Rate), tax.Rate
}

func (r *RateResolver) zoneFor(region string) (domain.ShippingZone, error) {
	idx, ok := r.regions[foldRegion(region)]
	if !ok {
		if r.catchAll < 0 {
			return domain.ShippingZone{}, fmt.Errorf("%w: no zone serves %q", ErrNoShippingAvailable, region)
		}
		idx = r.catchAll
	}
	zone := r.settings.Shipping.Zones[idx]
	if !zone.Active {
		return domain.ShippingZone{}, fmt.Errorf("%w: zone %s is inactive", ErrNoShippingAvailable, zone.ID)
	}
	return zone, nil
}

// foldRegion normalises case, width and inner whitespace so "lagos", "LAGOS" and full-width
// forms match. A Caser is not safe for concurrent use, so one is built per call.
func foldRegion(region string) string {
	region = width.Fold.String(strings.TrimSpace(region))
	return cases.Fold().String(strings.Join(strings.Fields(region), " "))
}
