package http

import "time"

// Generic HTTP / JSON strings
const (
	HTTPErrorMethodNotAllowedText = "method not allowed"
	HTTPErrorInvalidJSONText      = "invalid JSON"
	HTTPErrorForbiddenText        = "forbidden"
	HTTPErrorForbiddenHostText    = "forbidden host"
	HTTPErrorUnhandledText        = "envelope not handled"
)

// Common JSON keys
const (
	JSONKeyStatus = "status"
	JSONKeyError  = "error"
)

// Event stream tuning
const (
	eventBuffer      = 32
	eventWriteWait   = 10 * time.Second
	eventPongWait    = 60 * time.Second
	eventPingPeriod  = eventPongWait * 9 / 10
	eventReadLimit   = 4 << 10
	maxEnvelopeBytes = 1 << 20
	corsMaxAge       = 600
)
