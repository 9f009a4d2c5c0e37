package marketdata

import (
	"regexp"

	"github.com/aristath/sentry/internal/domain"
)

var symbolPattern = regexp.MustCompile(`(?i)^[A-Z0-9_\-]{1,20}$`)

// ValidationRule is a pluggable predicate over a PairInfo; reject=true means
// the snapshot is rejected outright, with reason naming the failed check.
type ValidationRule func(p domain.PairInfo) (reason string, reject bool)

// DefaultRules are the hard snapshot-rejection rules applied before a
// PairInfo is folded into rolling state.
var DefaultRules = []ValidationRule{
	func(p domain.PairInfo) (string, bool) {
		if p.Price <= 0 {
			return "price <= 0", true
		}
		return "", false
	},
	func(p domain.PairInfo) (string, bool) {
		if p.Volume24h < 0 {
			return "volume24h < 0", true
		}
		return "", false
	},
	func(p domain.PairInfo) (string, bool) {
		if p.PriceChange24h > 1000 || p.PriceChange24h < -1000 {
			return "priceChange24h out of range", true
		}
		return "", false
	},
	func(p domain.PairInfo) (string, bool) {
		if p.MarketCap != nil && *p.MarketCap <= 0 {
			return "marketCap <= 0", true
		}
		return "", false
	},
	func(p domain.PairInfo) (string, bool) {
		if p.Liquidity != nil && *p.Liquidity <= 0 {
			return "liquidity <= 0", true
		}
		return "", false
	},
	func(p domain.PairInfo) (string, bool) {
		if !symbolPattern.MatchString(p.Symbol) {
			return "symbol does not match pattern", true
		}
		return "", false
	},
}

// Validate runs rules (DefaultRules if nil) against a snapshot. ok is false
// iff any rule rejects it; reason names the first rule that rejected.
func Validate(p domain.PairInfo, rules []ValidationRule) (ok bool, reason string) {
	if rules == nil {
		rules = DefaultRules
	}
	for _, rule := range rules {
		if reason, reject := rule(p); reject {
			return false, reason
		}
	}
	return true, ""
}

// IsAnomalous flags (without rejecting) a pair whose reported move is
// suspicious: either an extreme swing, or a large swing on negligible
// volume. Anomalous pairs are logged and never used to overwrite a prior
// good price, but are not dropped at the snapshot layer.
func IsAnomalous(p domain.PairInfo) bool {
	abs := p.PriceChange24h
	if abs < 0 {
		abs = -abs
	}
	if abs > 95 {
		return true
	}
	if p.Volume24h < 100 && abs > 10 {
		return true
	}
	return false
}
