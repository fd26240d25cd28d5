package nodeclient

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/fanout/pkg/types"
)

const (
	// StatusTransportError is the sentinel status recorded on a Response
	// when the request never produced an HTTP status (network, TLS,
	// timeout, or URI construction failure)
	StatusTransportError = -1

	// StatusNodeContinue is the informational sentinel a node answers a
	// verification-round request with when it accepts. Go's HTTP client
	// consumes 1xx responses internally, so the client observes it through
	// an httptrace hook and surfaces it as the response status.
	StatusNodeContinue = 150
)

// Request is one logical HTTP call to one node. The URI must already be
// rewritten against the target node's API host and port.
type Request struct {
	Node    types.Node
	Method  string
	URI     *url.URL
	Params  url.Values
	Body    io.Reader
	Headers http.Header
}

// Response is the result of a Request. Exactly one of {Status+Body, Err}
// carries the outcome: a transport failure sets Err and the sentinel status,
// a delivered response sets the real status and a single-consumer body.
type Response struct {
	Node      types.Node
	Method    string
	URI       *url.URL
	Status    int
	Headers   http.Header
	Body      io.ReadCloser
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// HasError reports whether the request failed before producing a status
func (r *Response) HasError() bool {
	return r.Err != nil
}

// ReadBody drains and closes the body, returning its contents. The body is
// a single-consumer stream; ReadBody may be called at most once.
func (r *Response) ReadBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	r.Body = nil
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", r.Node.ID, err)
	}
	return data, nil
}

// Close releases the body without reading it
func (r *Response) Close() {
	if r.Body != nil {
		r.Body.Close()
		r.Body = nil
	}
}

// RewriteURI reconstructs a caller-facing URI against one node's API
// address, preserving the scheme and path and dropping any query or
// fragment (parameters travel separately on the Request)
func RewriteURI(uri *url.URL, node types.Node) (*url.URL, error) {
	if uri.Scheme != "http" && uri.Scheme != "https" {
		return nil, fmt.Errorf("cannot construct URI for node %s: unsupported scheme %q", node.ID, uri.Scheme)
	}
	if node.APIHost == "" || node.APIPort <= 0 {
		return nil, fmt.Errorf("cannot construct URI for node %s: incomplete API address", node.ID)
	}

	return &url.URL{
		Scheme: uri.Scheme,
		Host:   fmt.Sprintf("%s:%d", node.APIHost, node.APIPort),
		Path:   uri.Path,
	}, nil
}
