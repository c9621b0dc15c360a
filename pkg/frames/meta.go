package frames

// Meta keys shared across the pipeline.
const (
	MetaSessionID = "session_id"
	MetaTraceID   = "trace_id"
	MetaCallSID   = "call_sid"
	MetaSource    = "source"
	MetaIsFinal   = "is_final"
	MetaReason    = "reason"
	MetaEncoding  = "encoding"
	MetaDirection = "direction"
)

// Direction values for MetaDirection.
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"
)
