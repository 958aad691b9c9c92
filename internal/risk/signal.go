// Package risk implements the credential risk subsystem: the error
// normalizer that maps transport failures onto a fixed signal set, the
// pure policy engine deciding lifecycle transitions, and the risk
// manager that mediates observations, admission decisions, manual
// releases, and identity-collision detection.
package risk

import (
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
)

// Signal is a normalized classification of an observation.
type Signal string

const (
	SignalSuccess                  Signal = "success"
	SignalAuthInvalid              Signal = "auth_invalid"
	SignalQuotaExceeded            Signal = "quota_exceeded"
	SignalRateLimited              Signal = "rate_limited"
	SignalSuspended                Signal = "suspended"
	SignalBanned                   Signal = "banned"
	SignalNetworkTransient         Signal = "network_transient"
	SignalIdentityCollision        Signal = "identity_collision"
	SignalManualRelease            Signal = "manual_release"
	SignalProviderNeedsRefresh     Signal = "provider_needs_refresh"
	SignalProviderMarkedHealthy    Signal = "provider_marked_healthy"
	SignalProviderMarkedUnhealthy  Signal = "provider_marked_unhealthy"
	SignalProviderEnabled          Signal = "provider_enabled"
	SignalProviderDisabled         Signal = "provider_disabled"
	SignalUnknown                  Signal = "unknown"
)

// Valid reports whether s belongs to the fixed signal set.
func (s Signal) Valid() bool {
	switch s {
	case SignalSuccess, SignalAuthInvalid, SignalQuotaExceeded, SignalRateLimited,
		SignalSuspended, SignalBanned, SignalNetworkTransient, SignalIdentityCollision,
		SignalManualRelease, SignalProviderNeedsRefresh, SignalProviderMarkedHealthy,
		SignalProviderMarkedUnhealthy, SignalProviderEnabled, SignalProviderDisabled,
		SignalUnknown:
		return true
	}
	return false
}

// ErrorInfo carries the raw material of a failed upstream call.
type ErrorInfo struct {
	StatusCode   int
	Code         string
	Message      string
	ResponseBody string
	// PresetSignal short-circuits classification when the caller already
	// knows the signal (e.g. pool mark operations).
	PresetSignal Signal
}

// Normalized is the classifier output.
type Normalized struct {
	Signal     Signal
	ReasonCode string
	StatusCode int
	RawMessage string
}

// Markers scanned in lowercased message+body. Ban markers win over
// suspension markers.
var (
	banMarkers = []string{
		"account has been banned",
		"account banned",
		"permanently suspended",
		"access revoked",
		"terms of service violation",
	}
	suspendMarkers = []string{
		"account suspended",
		"temporarily suspended",
		"account is locked",
		"account locked",
		"unusual activity",
	}
	transientCodes = []string{
		"econnreset",
		"econnrefused",
		"etimedout",
		"enotfound",
		"eai_again",
		"epipe",
		"socket hang up",
		"connection reset",
		"connection refused",
		"stream aborted",
		"i/o timeout",
		"context deadline exceeded",
		"no such host",
		"tls handshake timeout",
		"unexpected eof",
	}
)

// Normalize maps an upstream error onto the signal set. Classification
// order: preset signal, ban/suspension markers, transient network codes,
// HTTP status routing, unknown.
func Normalize(info ErrorInfo) Normalized {
	raw := util.RedactURLUserinfo(strings.TrimSpace(info.Message))
	out := Normalized{StatusCode: info.StatusCode, RawMessage: raw}

	if info.PresetSignal != "" && info.PresetSignal.Valid() {
		out.Signal = info.PresetSignal
		return out
	}

	haystack := strings.ToLower(info.Message + " " + info.ResponseBody)
	for _, marker := range banMarkers {
		if strings.Contains(haystack, marker) {
			out.Signal = SignalBanned
			out.ReasonCode = "ban_marker"
			return out
		}
	}
	for _, marker := range suspendMarkers {
		if strings.Contains(haystack, marker) {
			out.Signal = SignalSuspended
			if info.StatusCode == 423 {
				out.ReasonCode = "http_423"
			} else {
				out.ReasonCode = "http_403"
			}
			return out
		}
	}

	codeHaystack := strings.ToLower(info.Code) + " " + haystack
	for _, code := range transientCodes {
		if strings.Contains(codeHaystack, code) {
			out.Signal = SignalNetworkTransient
			out.ReasonCode = "network"
			return out
		}
	}

	switch {
	case info.StatusCode == 401:
		out.Signal = SignalAuthInvalid
		out.ReasonCode = "http_401"
	case info.StatusCode == 402:
		out.Signal = SignalQuotaExceeded
		out.ReasonCode = "http_402"
	case info.StatusCode == 403:
		out.Signal = SignalAuthInvalid
		out.ReasonCode = "http_403"
	case info.StatusCode == 423:
		out.Signal = SignalSuspended
		out.ReasonCode = "http_423"
	case info.StatusCode == 429:
		out.Signal = SignalRateLimited
		out.ReasonCode = "http_429"
	case info.StatusCode >= 500 && info.StatusCode <= 599:
		out.Signal = SignalNetworkTransient
		out.ReasonCode = "http_5xx"
	default:
		out.Signal = SignalUnknown
	}
	return out
}
