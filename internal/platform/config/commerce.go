package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/fulfillment/internal/domain"
)

const (
	defaultOrderNumberPrefix   = "ORD"
	defaultOrderNumberAttempts = 5
	defaultLowStockThreshold   = 5
)

var maxTaxRate = decimal.NewFromInt(100)

type commerceFile struct {
	Currency string `yaml:"currency"`
	Shipping struct {
		CatchAllZone string     `yaml:"catchAllZone"`
		Zones        []zoneFile `yaml:"zones"`
	} `yaml:"shipping"`
	Tax struct {
		Enabled bool   `yaml:"enabled"`
		Rate    string `yaml:"rate"`
		Label   string `yaml:"label"`
	} `yaml:"tax"`
	Inventory struct {
		LowStockThreshold *int64 `yaml:"lowStockThreshold"`
		RestockOnRefund   bool   `yaml:"restockOnRefund"`
	} `yaml:"inventory"`
	OrderNumbers struct {
		Prefix      string `yaml:"prefix"`
		MaxAttempts int    `yaml:"maxAttempts"`
	} `yaml:"orderNumbers"`
	Payments struct {
		CallbackURL   string `yaml:"callbackUrl"`
		PendingExpiry string `yaml:"pendingExpiry"`
	} `yaml:"payments"`
}

type zoneFile struct {
	ID      string     `yaml:"id"`
	Name    string     `yaml:"name"`
	Regions []string   `yaml:"regions"`
	Active  *bool      `yaml:"active"`
	Rates   []rateFile `yaml:"rates"`
}

type rateFile struct {
	ID                    string `yaml:"id"`
	Name                  string `yaml:"name"`
	Description           string `yaml:"description"`
	Price                 string `yaml:"price"`
	FreeShippingThreshold string `yaml:"freeShippingThreshold"`
	Active                *bool  `yaml:"active"`
}

// LoadCommerceSettings reads the YAML commerce settings file. Amounts are authored in
// major units and converted to minor units.
func LoadCommerceSettings(path string) (domain.CommerceSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CommerceSettings{}, fmt.Errorf("config: read commerce settings: %w", err)
	}
	return ParseCommerceSettings(data)
}

// ParseCommerceSettings decodes and validates a commerce settings document.
func ParseCommerceSettings(data []byte) (domain.CommerceSettings, error) {
	var file commerceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.CommerceSettings{}, fmt.Errorf("config: decode commerce settings: %w", err)
	}

	var problems []string
	settings := domain.CommerceSettings{
		Currency: strings.ToUpper(strings.TrimSpace(file.Currency)),
		Shipping: domain.ShippingSettings{
			CatchAllZoneID: strings.TrimSpace(file.Shipping.CatchAllZone),
		},
		Tax: domain.TaxSettings{
			Enabled: file.Tax.Enabled,
			Label:   strings.TrimSpace(file.Tax.Label),
			Rate:    decimal.Zero,
		},
		Inventory: domain.InventorySettings{
			LowStockThreshold: defaultLowStockThreshold,
			RestockOnRefund:   file.Inventory.RestockOnRefund,
		},
		OrderNumbers: domain.OrderNumberSettings{
			Prefix:      strings.ToUpper(strings.TrimSpace(file.OrderNumbers.Prefix)),
			MaxAttempts: file.OrderNumbers.MaxAttempts,
		},
		Payments: domain.PaymentSettings{
			CallbackURL: strings.TrimSpace(file.Payments.CallbackURL),
		},
	}

	if settings.Currency == "" {
		problems = append(problems, "currency is required")
	}
	if file.Inventory.LowStockThreshold != nil {
		settings.Inventory.LowStockThreshold = *file.Inventory.LowStockThreshold
	}
	if settings.OrderNumbers.Prefix == "" {
		settings.OrderNumbers.Prefix = defaultOrderNumberPrefix
	}
	if settings.OrderNumbers.MaxAttempts <= 0 {
		settings.OrderNumbers.MaxAttempts = defaultOrderNumberAttempts
	}

	if raw := strings.TrimSpace(file.Tax.Rate); raw != "" {
		rate, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("tax.rate %q is not a number", raw))
		case rate.IsNegative() || rate.GreaterThan(maxTaxRate):
			problems = append(problems, "tax.rate must be between 0 and 100")
		default:
			settings.Tax.Rate = rate
		}
	}

	if raw := strings.TrimSpace(file.Payments.PendingExpiry); raw != "" {
		expiry, err := time.ParseDuration(raw)
		if err != nil || expiry < 0 {
			problems = append(problems, fmt.Sprintf("payments.pendingExpiry %q is not a valid duration", raw))
		} else {
			settings.Payments.PendingExpiry = expiry
		}
	}

	zoneIDs := make(map[string]struct{})
	rateIDs := make(map[string]struct{})
	for i, zf := range file.Shipping.Zones {
		zone := domain.ShippingZone{
			ID:     strings.TrimSpace(zf.ID),
			Name:   strings.TrimSpace(zf.Name),
			Active: zf.Active == nil || *zf.Active,
		}
		if zone.ID == "" {
			problems = append(problems, fmt.Sprintf("shipping.zones[%d].id is required", i))
			continue
		}
		if _, dup := zoneIDs[zone.ID]; dup {
			problems = append(problems, fmt.Sprintf("shipping zone %q is defined twice", zone.ID))
		}
		zoneIDs[zone.ID] = struct{}{}
		for _, region := range zf.Regions {
			if region = strings.TrimSpace(region); region != "" {
				zone.Regions = append(zone.Regions, region)
			}
		}
		for j, rf := range zf.Rates {
			rate, err := parseRate(rf)
			if err != nil {
				problems = append(problems, fmt.Sprintf("shipping.zones[%d].rates[%d]: %v", i, j, err))
				continue
			}
			if _, dup := rateIDs[rate.ID]; dup {
				problems = append(problems, fmt.Sprintf("shipping rate %q is defined twice", rate.ID))
			}
			rateIDs[rate.ID] = struct{}{}
			zone.Rates = append(zone.Rates, rate)
		}
		settings.Shipping.Zones = append(settings.Shipping.Zones, zone)
	}
	if id := settings.Shipping.CatchAllZoneID; id != "" {
		if _, ok := zoneIDs[id]; !ok {
			problems = append(problems, fmt.Sprintf("shipping.catchAllZone %q does not match a zone", id))
		}
	}

	if len(problems) > 0 {
		return domain.CommerceSettings{}, fmt.Errorf("config: invalid commerce settings: %s", strings.Join(problems, "; "))
	}
	return settings, nil
}

func parseRate(rf rateFile) (domain.ShippingRate, error) {
	rate := domain.ShippingRate{
		ID:          strings.TrimSpace(rf.ID),
		Name:        strings.TrimSpace(rf.Name),
		Description: strings.TrimSpace(rf.Description),
		Active:      rf.Active == nil || *rf.Active,
	}
	if rate.ID == "" {
		return domain.ShippingRate{}, errors.New("id is required")
	}
	if rate.Name == "" {
		rate.Name = rate.ID
	}
	price, err := domain.ParseMinorUnits(rf.Price)
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("price: %w", err)
	}
	threshold, err := domain.ParseMinorUnits(rf.FreeShippingThreshold)
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("freeShippingThreshold: %w", err)
	}
	if price < 0 || threshold < 0 {
		return domain.ShippingRate{}, errors.New("amounts must not be negative")
	}
	rate.Price = price
	rate.FreeShippingThreshold = threshold
	return rate, nil
}
