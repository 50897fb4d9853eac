package config

import (
	"strings"
	"testing"
	"time"
)

const sampleCommerce = `
currency: ngn
shipping:
  catchAllZone: other
  zones:
    - id: lagos
      name: Lagos
      regions: [Lagos, " "]
      rates:
        - id: lagos-standard
          name: Standard
          price: "1500"
          freeShippingThreshold: "50000"
        - id: lagos-express
          price: "3500.50"
          active: false
    - id: other
      name: Other Regions
      rates:
        - id: other-standard
          price: "4000"
tax:
  enabled: true
  rate: "7.5"
payments:
  pendingExpiry: 24h
`

func TestParseCommerceSettings(t *testing.T) {
	settings, err := ParseCommerceSettings([]byte(sampleCommerce))
	if err != nil {
		t.Fatalf("ParseCommerceSettings returned error: %v", err)
	}

	if settings.Currency != "NGN" {
		t.Errorf("expected upper-cased currency, got %s", settings.Currency)
	}
	if len(settings.Shipping.Zones) != 2 {
		t.Fatalf("expected two zones, got %d", len(settings.Shipping.Zones))
	}
	lagos := settings.Shipping.Zones[0]
	if len(lagos.Regions) != 1 || lagos.Regions[0] != "Lagos" {
		t.Errorf("expected blank regions dropped, got %v", lagos.Regions)
	}
	if !lagos.Active {
		t.Errorf("expected zone active by default")
	}
	standard := lagos.Rates[0]
	if standard.Price != 150000 || standard.FreeShippingThreshold != 5000000 {
		t.Errorf("unexpected minor-unit amounts %+v", standard)
	}
	express := lagos.Rates[1]
	if express.Price != 350050 || express.Active || express.Name != "lagos-express" {
		t.Errorf("unexpected express rate %+v", express)
	}
	if settings.Shipping.CatchAllZoneID != "other" {
		t.Errorf("unexpected catch-all zone %s", settings.Shipping.CatchAllZoneID)
	}
	if !settings.Tax.Enabled || settings.Tax.Rate.String() != "7.5" {
		t.Errorf("unexpected tax settings %+v", settings.Tax)
	}
	if settings.OrderNumbers.Prefix != defaultOrderNumberPrefix || settings.OrderNumbers.MaxAttempts != defaultOrderNumberAttempts {
		t.Errorf("unexpected order number defaults %+v", settings.OrderNumbers)
	}
	if settings.Inventory.LowStockThreshold != defaultLowStockThreshold || settings.Inventory.RestockOnRefund {
		t.Errorf("unexpected inventory defaults %+v", settings.Inventory)
	}
	if settings.Payments.PendingExpiry != 24*time.Hour {
		t.Errorf("unexpected pending expiry %s", settings.Payments.PendingExpiry)
	}
}

func TestParseCommerceSettingsReportsProblems(t *testing.T) {
	doc := `
shipping:
  catchAllZone: missing
  zones:
    - id: a
      rates:
        - id: r1
          price: "10.001"
        - id: r2
          price: "5"
    - id: a
      rates:
        - id: r2
          price: "5"
tax:
  rate: "120"
`
	_, err := ParseCommerceSettings([]byte(doc))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"currency is required",
		"tax.rate must be between 0 and 100",
		`shipping zone "a" is defined twice`,
		`shipping rate "r2" is defined twice`,
		"more than two decimal places",
		`catchAllZone "missing"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %v", want, err)
		}
	}
}

func TestLoadCommerceSettingsSampleFile(t *testing.T) {
	settings, err := LoadCommerceSettings("../../../configs/commerce.yaml")
	if err != nil {
		t.Fatalf("sample settings failed to load: %v", err)
	}
	if settings.Shipping.CatchAllZoneID == "" {
		t.Fatalf("expected sample to define a catch-all zone")
	}
}
