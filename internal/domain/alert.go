package domain

// AlertKind groups alert keys for storage and reporting.
type AlertKind string

// Alert kinds.
const (
	AlertTargetHit  AlertKind = "target_hit"
	AlertStopLoss   AlertKind = "stop_loss"
	AlertCloudCross AlertKind = "cloud_cross"
	AlertSignal     AlertKind = "indicator_signal"
	AlertSummary    AlertKind = "performance_summary"
)

// AlertRecord is a delivered (or attempted) alert.
type AlertRecord struct {
	AlertID   string    // uuid
	AssetID   string    // TrackedAsset.ID
	AssetKey  string    // token address
	Kind      AlertKind // coarse alert kind
	Key       string    // dedup key within the asset's alertsSent set
	Price     float64   // price that triggered the alert
	Timestamp int64     // Unix seconds
	Message   string    // rendered notification text
}
