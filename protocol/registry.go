// Package protocol holds the two static, append-only tables that are
// the sole authority for the wire protocol: which server version a
// feature requires, and how an inbound message-id routes. Neither
// table depends on runtime state (spec.md §4.H).
package protocol

// RoutingMode describes how an incoming message-id's frame is routed
// to a destination channel.
type RoutingMode int

const (
	// RouteByField routes using the integer value at FieldIndex
	// (second/third field; the message-id itself is field 0) as a
	// request-id.
	RouteByField RoutingMode = iota
	// RouteByOrderID routes using the integer value at FieldIndex as an
	// order-id previously issued to the caller.
	RouteByOrderID
	// RouteShared fans the frame out to every subscriber of Class; it
	// carries no per-request id.
	RouteShared
	// RouteError is the dedicated error message class: (request-id,
	// code, text). Routes by request-id when the id matches a live
	// registration, else broadcasts on the error shared channel.
	RouteError
)

// Class names the shared-channel classes a RouteShared/RouteError entry
// belongs to.
type Class string

const (
	ClassError           Class = "error"
	ClassPosition        Class = "position"
	ClassPositionEnd     Class = "position_end"
	ClassAccountUpdate   Class = "account_update"
	ClassAccountUpdateEnd Class = "account_update_end"
	ClassNewsBulletin    Class = "news_bulletin"
	ClassManagedAccounts Class = "managed_accounts"
	ClassNextValidID     Class = "next_valid_id"
)

// MessageIDSpec is one row of the message-id table.
type MessageIDSpec struct {
	Mode       RoutingMode
	FieldIndex int   // index of the routing field, ignored for RouteShared
	Class      Class // shared-channel class, ignored for RouteByField/RouteByOrderID
	// EndOfStream marks this message-id as a sentinel that terminates
	// a subscription for its routing key or class (e.g. "...End" variants).
	EndOfStream bool
	// DualRouted marks an entry that — per spec.md §4.D tie-break —
	// delivers to the keyed channel AND additionally to Class's shared
	// channel (used by the error class).
	DualRouted bool
}

// Incoming message-ids. Only the subset this core needs to demultiplex
// and the end-to-end test scenarios in spec.md §8 exercise are named;
// per-domain decoders for the rest plug into the same table by adding
// an entry, per spec.md §3's "this table is the sole authority" note.
const (
	InTickPrice        = 1
	InTickSize         = 2
	InOrderStatus      = 3
	InErrMsg           = 4
	InOpenOrder        = 5
	InAccountValue     = 6
	InPortfolioValue   = 7
	InAccountUpdateTime = 8
	InNextValidID      = 9
	InContractData     = 10
	InExecutionData    = 11
	InMarketDepth      = 12
	InMarketDepthL2    = 13
	InNewsBulletins    = 14
	InManagedAccounts  = 15
	InReceiveFA        = 16
	InHistoricalData   = 17
	InBondContractData = 18
	InScannerParameters = 19
	InScannerData      = 20
	InTickOptionComputation = 21
	InTickGeneric      = 45
	InTickString       = 46
	InTickEFP          = 47
	InCurrentTime      = 49
	InRealTimeBars     = 50
	InFundamentalData  = 51
	InContractDataEnd  = 52
	InOpenOrderEnd     = 53
	InAccountDownloadEnd = 54
	InExecutionDataEnd = 55
	InDeltaNeutralValidation = 56
	InTickSnapshotEnd = 57
	InMarketDataType  = 58
	InCommissionReport = 59
	InPosition        = 61
	InPositionEnd     = 62
	InAccountSummary  = 63
	InAccountSummaryEnd = 64
	InVerifyMessageAPI = 65
	InVerifyCompleted  = 66
	InDisplayGroupList = 67
	InDisplayGroupUpdated = 68
	InVerifyAndAuthMessageAPI = 69
	InVerifyAndAuthCompleted  = 70
	InPositionMulti    = 71
	InPositionMultiEnd = 72
	InAccountUpdateMulti    = 73
	InAccountUpdateMultiEnd = 74
	InSecurityDefinitionOptionParameter = 75
	InSecurityDefinitionOptionParameterEnd = 76
	InSoftDollarTiers = 77
	InFamilyCodes     = 78
	InSymbolSamples   = 79
	InMktDepthExchanges = 80
	InTickReqParams   = 81
	InSmartComponents = 82
	InNewsArticle     = 83
	InTickNews        = 84
	InNewsProviders   = 85
	InHistoricalNews  = 86
	InHistoricalNewsEnd = 87
	InHeadTimestamp   = 88
	InHistogramData   = 89
	InHistoricalDataUpdate = 90
	InRerouteMktDataReq = 91
	InRerouteMktDepthReq = 92
	InMarketRule      = 93
	InPnl             = 94
	InPnlSingle       = 95
	InHistoricalTicks = 96
	InHistoricalTicksBidAsk = 97
	InHistoricalTicksLast = 98
	InTickByTick      = 99
	InOrderBound      = 100
	InCompletedOrder  = 101
	InCompletedOrdersEnd = 102
	InReplaceFAEnd    = 103
	InWshMetaData     = 104
	InWshEventData    = 105
	InHistoricalSchedule = 106
	InUserInfo        = 107
)

// MessageIDTable is the static incoming_code -> routing spec mapping
// (spec.md §3). Extending the protocol means adding a row here.
var MessageIDTable = map[int]MessageIDSpec{
	InErrMsg:           {Mode: RouteError, FieldIndex: 1, Class: ClassError, DualRouted: true},
	InCurrentTime:      {Mode: RouteByField, FieldIndex: 1},
	InContractData:     {Mode: RouteByField, FieldIndex: 1},
	InContractDataEnd:  {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InTickPrice:        {Mode: RouteByField, FieldIndex: 1},
	InTickSize:         {Mode: RouteByField, FieldIndex: 1},
	InTickGeneric:      {Mode: RouteByField, FieldIndex: 1},
	InTickString:       {Mode: RouteByField, FieldIndex: 1},
	InTickEFP:          {Mode: RouteByField, FieldIndex: 1},
	InTickSnapshotEnd:  {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InHistoricalData:   {Mode: RouteByField, FieldIndex: 1},
	InHistoricalTicks:     {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InHistoricalTicksBidAsk: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InHistoricalTicksLast: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InExecutionData:    {Mode: RouteByField, FieldIndex: 2},
	InExecutionDataEnd: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InScannerData:      {Mode: RouteByField, FieldIndex: 2},
	InAccountSummary:   {Mode: RouteByField, FieldIndex: 1},
	InAccountSummaryEnd: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InPositionMulti:      {Mode: RouteByField, FieldIndex: 1},
	InPositionMultiEnd:   {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InAccountUpdateMulti:    {Mode: RouteByField, FieldIndex: 1},
	InAccountUpdateMultiEnd: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InSecurityDefinitionOptionParameter:    {Mode: RouteByField, FieldIndex: 1},
	InSecurityDefinitionOptionParameterEnd: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InFamilyCodes:      {Mode: RouteByField, FieldIndex: 1},
	InSymbolSamples:    {Mode: RouteByField, FieldIndex: 1},
	InSmartComponents:  {Mode: RouteByField, FieldIndex: 1},
	InNewsArticle:      {Mode: RouteByField, FieldIndex: 1},
	InHistoricalNews:   {Mode: RouteByField, FieldIndex: 1},
	InHistoricalNewsEnd: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InHeadTimestamp:    {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InHistogramData:    {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InMarketRule:       {Mode: RouteByField, FieldIndex: 1},
	InPnlSingle:        {Mode: RouteByField, FieldIndex: 1},
	InHistoricalSchedule: {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},
	InCompletedOrdersEnd: {Mode: RouteShared, Class: "completed_orders", EndOfStream: true},
	InCompletedOrder:   {Mode: RouteShared, Class: "completed_orders"},
	InUserInfo:         {Mode: RouteByField, FieldIndex: 1, EndOfStream: true},

	// order-id routed
	InOrderStatus:  {Mode: RouteByOrderID, FieldIndex: 1},
	InOpenOrder:    {Mode: RouteByOrderID, FieldIndex: 1},
	InOpenOrderEnd: {Mode: RouteShared, Class: "open_order", EndOfStream: true},
	InOrderBound:   {Mode: RouteByOrderID, FieldIndex: 1},

	// shared, no per-request id
	InNextValidID:      {Mode: RouteShared, Class: ClassNextValidID},
	InAccountValue:     {Mode: RouteShared, Class: ClassAccountUpdate},
	InPortfolioValue:   {Mode: RouteShared, Class: ClassAccountUpdate},
	InAccountUpdateTime: {Mode: RouteShared, Class: ClassAccountUpdate},
	InAccountDownloadEnd: {Mode: RouteShared, Class: ClassAccountUpdateEnd, EndOfStream: true},
	InManagedAccounts:  {Mode: RouteShared, Class: ClassManagedAccounts},
	InNewsBulletins:    {Mode: RouteShared, Class: ClassNewsBulletin},
	InPosition:         {Mode: RouteShared, Class: ClassPosition},
	InPositionEnd:      {Mode: RouteShared, Class: ClassPositionEnd, EndOfStream: true},
	InMarketDataType:   {Mode: RouteShared, Class: "market_data_type"},
	InCommissionReport: {Mode: RouteShared, Class: "commission_report"},
	InTickByTick:       {Mode: RouteShared, Class: "tick_by_tick"},
	InPnl:              {Mode: RouteShared, Class: "pnl"},
	InReplaceFAEnd:     {Mode: RouteShared, Class: "replace_fa_end", EndOfStream: true},
}

// Lookup returns the routing spec for an incoming message-id. The bool
// is false for an unknown message-id; callers should follow spec.md §9's
// Open-Question resolution and surface that as a ProtocolError on the
// error shared channel rather than silently dropping the frame.
func Lookup(messageID int) (MessageIDSpec, bool) {
	spec, ok := MessageIDTable[messageID]
	return spec, ok
}
