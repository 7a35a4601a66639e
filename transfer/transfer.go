// Package transfer provides the shared primitives of the chunked, resumable
// object-transfer protocol: rendered wire requests, transport-agnostic
// responses, the transport contract, checksum accumulation and chunk slicing.
//
// The protocol logic in this module is split into "prepare request" and
// "process response" steps so any transport, blocking or not, can drive it.
package transfer

import (
	"context"
	"net/http"
)

// Request is a fully rendered wire request produced by the protocol layer.
// The header map is owned by the request; caller-supplied header maps are
// never mutated in place, they are copied before protocol headers are merged
// on top.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response is the transport-agnostic view of an HTTP response with its body
// fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs a single wire exchange. Implementations may retry
// internally; the protocol state machines themselves never do.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
