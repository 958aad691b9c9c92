// Package translator maintains the registry of dialect-to-dialect
// payload converters. Conversions are registered per (from, to) pair,
// where "from" is the inbound client dialect and "to" is the dialect
// the selected upstream speaks.
//
// Streaming transforms receive one bare JSON payload per call (SSE
// framing already stripped by the upstream adapters; the OpenAI
// "[DONE]" marker is passed through literally) and return fully framed
// SSE chunks ready to write to the client.
package translator

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// RequestTransform converts a request payload from one dialect to another.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// ResponseStreamTransform converts one streaming payload between dialects.
// param carries per-stream conversion state across calls.
type ResponseStreamTransform func(ctx context.Context, model string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string

// ResponseNonStreamTransform converts a unary response between dialects.
type ResponseNonStreamTransform func(ctx context.Context, model string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string

// ResponseTransform groups the streaming and non-streaming transforms
// for one (from, to) pair.
type ResponseTransform struct {
	Stream    ResponseStreamTransform
	NonStream ResponseNonStreamTransform
}

var (
	requests  = make(map[string]map[string]RequestTransform)
	responses = make(map[string]map[string]ResponseTransform)
)

// Register installs the request and response transforms for a dialect pair.
func Register(from, to string, request RequestTransform, response ResponseTransform) {
	log.Debugf("registering translator from %s to %s", from, to)
	if _, ok := requests[from]; !ok {
		requests[from] = make(map[string]RequestTransform)
	}
	requests[from][to] = request

	if _, ok := responses[from]; !ok {
		responses[from] = make(map[string]ResponseTransform)
	}
	responses[from][to] = response
}

// Request converts a request payload; identity when no transform is registered.
func Request(from, to, model string, rawJSON []byte, stream bool) []byte {
	if transform, ok := requests[from][to]; ok {
		return transform(model, rawJSON, stream)
	}
	return rawJSON
}

// NeedConvert reports whether a response transform exists for the pair.
func NeedConvert(from, to string) bool {
	_, ok := responses[from][to]
	return ok
}

// Response converts one streaming payload; identity when no transform
// is registered.
func Response(from, to string, ctx context.Context, model string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if transform, ok := responses[from][to]; ok {
		return transform.Stream(ctx, model, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return []string{string(rawJSON)}
}

// ResponseNonStream converts a unary response; identity when no
// transform is registered.
func ResponseNonStream(from, to string, ctx context.Context, model string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	if transform, ok := responses[from][to]; ok {
		return transform.NonStream(ctx, model, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return string(rawJSON)
}
