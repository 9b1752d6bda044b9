package domain

// PriceUpdate is a single observed price for a tracked asset.
// Produced by the live feed or by fallback polling.
type PriceUpdate struct {
	AssetKey  string  // on-chain token address
	Chain     string  // chain identifier ("solana", "ethereum", ...)
	Price     float64 // quote price
	Marketcap float64 // market capitalization at Price (0 if unknown)
	Timestamp int64   // Unix seconds
}
