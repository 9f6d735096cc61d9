package schema

// Asset maps one venue symbol to the engine's internal asset index.
// The mapping is supplied at session start and is read-only for the session's
// lifetime.
type Asset struct {
	Symbol  string
	AssetNo int
}

// AssetMap resolves venue symbols to assets in O(1).
type AssetMap map[string]Asset

// NewAssetMap builds a symbol-keyed map from the supplied assets.
func NewAssetMap(assets []Asset) AssetMap {
	m := make(AssetMap, len(assets))
	for _, a := range assets {
		m[a.Symbol] = a
	}
	return m
}

// Lookup returns the asset for a venue symbol.
func (m AssetMap) Lookup(symbol string) (Asset, bool) {
	a, ok := m[symbol]
	return a, ok
}

// Symbols returns the venue symbols in the map. Order is unspecified.
func (m AssetMap) Symbols() []string {
	out := make([]string, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	return out
}
