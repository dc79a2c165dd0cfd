package protocol

// Feature names a server-version-gated capability. A request helper
// checks server_version against the table before encoding (spec.md §4.G).
type Feature string

const (
	FeatureLinking               Feature = "linking"
	FeatureAccountSummary        Feature = "account_summary"
	FeaturePositions             Feature = "positions"
	FeaturePnl                   Feature = "pnl"
	FeatureFractionalPositions   Feature = "fractional_positions"
	FeaturePositionsMulti        Feature = "positions_multi"
	FeatureModelsSupport         Feature = "models_support"
	FeatureReqFamilyCodes        Feature = "req_family_codes"
	FeatureReqMktDepthExchanges  Feature = "req_mkt_depth_exchanges"
	FeatureReqSmartComponents    Feature = "req_smart_components"
	FeatureReqNewsProviders      Feature = "req_news_providers"
	FeatureReqNewsArticle        Feature = "req_news_article"
	FeatureReqHistoricalNews     Feature = "req_historical_news"
	FeatureReqHeadTimestamp      Feature = "req_head_timestamp"
	FeatureReqHistogramData      Feature = "req_histogram_data"
	FeatureServiceDataType       Feature = "service_data_type"
	FeatureAggGroup              Feature = "agg_group"
	FeatureUnderlyingInfo        Feature = "underlying_info"
	FeatureCashQty               Feature = "cash_qty"
	FeaturePeggedToBenchmark     Feature = "pegged_to_benchmark"
	FeatureWshEventData          Feature = "wsh_event_data"
	FeatureUserInfo              Feature = "user_info"
)

// FeatureTable is the static feature -> minimum-server-version mapping
// (spec.md §3, §4.H). Values are illustrative of the real protocol's
// shape; extending it means adding a row.
var FeatureTable = map[Feature]int{
	FeatureLinking:              61,
	FeatureAccountSummary:       67,
	FeaturePositions:            67,
	FeaturePnl:                  94,
	FeatureFractionalPositions:  139,
	FeaturePositionsMulti:       74,
	FeatureModelsSupport:        103,
	FeatureReqFamilyCodes:       101,
	FeatureReqMktDepthExchanges: 102,
	FeatureReqSmartComponents:   104,
	FeatureReqNewsProviders:     106,
	FeatureReqNewsArticle:       106,
	FeatureReqHistoricalNews:    106,
	FeatureReqHeadTimestamp:     107,
	FeatureReqHistogramData:     108,
	FeatureServiceDataType:      109,
	FeatureAggGroup:             158,
	FeatureUnderlyingInfo:       163,
	FeatureCashQty:              150,
	FeaturePeggedToBenchmark:    155,
	FeatureWshEventData:         171,
	FeatureUserInfo:             176,
}

// MinVersion returns the minimum server version required for feature,
// and false if the feature is unknown (treated as unconditionally
// supported by callers — an unknown feature name is a programmer error,
// not a version problem).
func MinVersion(feature Feature) (int, bool) {
	v, ok := FeatureTable[feature]
	return v, ok
}

// Outgoing message codes this core sends, sufficient for handshake and
// the §8 end-to-end scenarios. Domain-specific encoders supply the rest
// of the outgoing codes through the same OutgoingCode-tagged Frame
// construction; the core does not enumerate them all.
const (
	OutReqCurrentTime = 49
	OutStartAPI       = 71
	OutReqPositions   = 61
	OutCancelPositions = 64
	OutReqIDs         = 8
)

// CancelCode maps a shared class to the outgoing code that cancels its
// stream server-side, for Subscription's best-effort cancel (spec.md
// §4.F). Classes with no cancel message are simply absent.
var CancelCode = map[Class]int{
	ClassPosition: OutCancelPositions,
}
