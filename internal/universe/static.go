// Package universe resolves universe ids to symbol lists.
package universe

import "sort"

// Universe ids.
const (
	Dow30      = "dow30"
	SectorETFs = "sector_etfs"
	NasdaqCore = "nasdaq_core"
	SP500      = "sp500"
)

// Asset classes, checked against the operator's allowed set.
const (
	AssetClassEquity = "equity"
	AssetClassETF    = "etf"
)

type definition struct {
	assetClass string
	symbols    []string // nil means scraped
}

var definitions = map[string]definition{
	Dow30: {AssetClassEquity, []string{
		"AAPL", "AMGN", "AMZN", "AXP", "BA", "CAT", "CRM", "CSCO", "CVX", "DIS",
		"GS", "HD", "HON", "IBM", "JNJ", "JPM", "KO", "MCD", "MMM", "MRK",
		"MSFT", "NKE", "NVDA", "PG", "SHW", "TRV", "UNH", "V", "VZ", "WMT",
	}},
	SectorETFs: {AssetClassETF, []string{
		"XLB", "XLC", "XLE", "XLF", "XLI", "XLK", "XLP", "XLRE", "XLU", "XLV", "XLY",
	}},
	NasdaqCore: {AssetClassEquity, []string{
		"AAPL", "ADBE", "AMD", "AMZN", "AVGO", "COST", "GOOGL", "META", "MSFT", "NFLX",
		"NVDA", "PEP", "QCOM", "TSLA", "TXN",
	}},
	SP500: {AssetClassEquity, nil},
}

// IDs lists supported universe ids in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(definitions))
	for id := range definitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsSupported reports whether id names a known universe.
func IsSupported(id string) bool {
	_, ok := definitions[id]
	return ok
}

// AssetClass returns the asset class of a universe, or "" for unknown ids.
func AssetClass(id string) string {
	return definitions[id].assetClass
}
