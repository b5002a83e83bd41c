package billing

import (
	"context"
	"math"
	"strings"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/internal/fx"
)

// NativeFXProvider is recorded for USD charges, which involve no external
// quote.
const NativeFXProvider = "native"

// CurrencyConfig controls settlement-currency selection.
type CurrencyConfig struct {
	// DefaultCurrency is the system settlement currency (e.g. NGN).
	DefaultCurrency string
	// USDCheckoutEnabled gates USD as a selectable settlement currency.
	USDCheckoutEnabled bool
}

// ResolvedCharge is a settlement currency plus the charge amount in minor
// units and the FX facts that produced it.
type ResolvedCharge struct {
	Currency       string
	AmountSubunits int64
	FXRate         float64
	FXProvider     string
}

// CurrencyResolver picks the settlement currency for a charge and converts
// the USD list price into settlement-currency minor units.
type CurrencyResolver struct {
	rates fx.RateSource
	cfg   CurrencyConfig
}

// NewCurrencyResolver creates a resolver over the given rate source.
func NewCurrencyResolver(rates fx.RateSource, cfg CurrencyConfig) *CurrencyResolver {
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	return &CurrencyResolver{rates: rates, cfg: cfg}
}

// DefaultCurrency returns the system settlement currency.
func (r *CurrencyResolver) DefaultCurrency() string { return r.cfg.DefaultCurrency }

// Supported reports whether currency is one of the two settlement
// currencies.
func (r *CurrencyResolver) Supported(currency string) bool {
	c := strings.ToUpper(currency)
	return c == r.cfg.DefaultCurrency || c == "USD"
}

// ResolveRequested resolves a caller-supplied currency strictly: anything
// outside {default, USD} is a validation error, and USD additionally
// requires the feature flag.
func (r *CurrencyResolver) ResolveRequested(ctx context.Context, requested string, usdPrice float64) (ResolvedCharge, error) {
	c := strings.ToUpper(strings.TrimSpace(requested))
	if c == "" {
		c = r.cfg.DefaultCurrency
	}
	if !r.Supported(c) {
		return ResolvedCharge{}, domainErrors.NewValidationError("currency",
			"unsupported settlement currency "+c)
	}
	if c == "USD" && c != r.cfg.DefaultCurrency && !r.cfg.USDCheckoutEnabled {
		return ResolvedCharge{}, domainErrors.NewValidationError("currency",
			"usd checkout is not enabled")
	}
	return r.resolve(ctx, c, usdPrice)
}

// ResolveStored resolves a stored billing currency leniently: a value that
// is not one of the two supported currencies is corrected to the system
// default rather than rejected, since renewal must not fail on a
// misconfigured row.
func (r *CurrencyResolver) ResolveStored(ctx context.Context, stored string, usdPrice float64) (ResolvedCharge, error) {
	c := strings.ToUpper(strings.TrimSpace(stored))
	if !r.Supported(c) || (c == "USD" && !r.cfg.USDCheckoutEnabled) {
		c = r.cfg.DefaultCurrency
	}
	return r.resolve(ctx, c, usdPrice)
}

func (r *CurrencyResolver) resolve(ctx context.Context, currency string, usdPrice float64) (ResolvedCharge, error) {
	if currency == "USD" {
		// USD settles natively: fixed rate, no quote lookup.
		return ResolvedCharge{
			Currency:       "USD",
			AmountSubunits: int64(math.Round(usdPrice * 100)),
			FXRate:         1.0,
			FXProvider:     NativeFXProvider,
		}, nil
	}

	quote, err := r.rates.GetRate(ctx, "USD", currency)
	if err != nil {
		return ResolvedCharge{}, err
	}
	return ResolvedCharge{
		Currency:       currency,
		AmountSubunits: int64(math.Round(usdPrice * quote.Rate)),
		FXRate:         quote.Rate,
		FXProvider:     quote.Provider,
	}, nil
}
