package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonUpstreamDial      ReasonCode = "upstream_dial"
	ReasonUpstreamSend      ReasonCode = "upstream_send"
	ReasonUpstreamHandshake ReasonCode = "upstream_handshake"
	ReasonClientSend        ReasonCode = "client_send"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
	ReasonSTTRestart ReasonCode = "stt_restart"

	ReasonCaptureUnavailable ReasonCode = "capture_unavailable"
	ReasonPlaybackDecode     ReasonCode = "playback_decode"

	ReasonFallbackRequest   ReasonCode = "fallback_request"
	ReasonFallbackRateLimit ReasonCode = "fallback_rate_limit"

	ReasonPhoneInvalidSignature ReasonCode = "phone_invalid_signature"
	ReasonPhoneDial             ReasonCode = "phone_dial"
)
