package billing

import (
	"strings"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/shopspring/decimal"
)

// Stripe charges these currencies in whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

func normalizeCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "usd"
	}
	return c
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return i
	default:
		return models.BillingIntervalMonth
	}
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[normalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// toMinorUnits converts 9.99 USD to 999, rounding half away from zero.
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	exp := currencyExponent(currency)
	return amount.Shift(exp).Round(0).IntPart()
}
