package nodeclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/metrics"
	"github.com/cuemby/fanout/pkg/types"
)

const (
	contentTypeHeader  = "Content-Type"
	defaultContentType = "application/x-www-form-urlencoded"
)

// Client issues outbound HTTP calls to individual nodes. It is safe for
// concurrent use by the worker pool; all state is in the shared http.Client.
type Client struct {
	http           *http.Client
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewClient creates a node client with the given per-hop budgets
func NewClient(connectTimeout, readTimeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   16,
		// Compression is negotiated and decoded explicitly so that the
		// merger always sees a plain stream
		DisableCompression: true,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
		},
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
	}
}

// Do performs one node request and always returns a Response: transport
// failures are recorded on the Response with the error sentinel status,
// never returned as a bare error. The call is bounded by the connect and
// read budgets plus small overhead.
func (c *Client) Do(ctx context.Context, req *Request) *Response {
	start := time.Now()

	resp := &Response{
		Node:      req.Node,
		Method:    req.Method,
		URI:       req.URI,
		StartedAt: start,
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return c.fail(resp, start, err)
	}

	// A node accepting a verification round answers with the informational
	// sentinel 150, which the transport consumes before returning the
	// final response; observe it through the trace hook
	sawContinue := false
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, _ textproto.MIMEHeader) error {
			if code == StatusNodeContinue {
				sawContinue = true
			}
			return nil
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return c.fail(resp, start, err)
	}

	body := io.ReadCloser(httpResp.Body)
	if strings.EqualFold(httpResp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(httpResp.Body)
		if err != nil {
			httpResp.Body.Close()
			return c.fail(resp, start, err)
		}
		body = &gzipBody{reader: gz, underlying: httpResp.Body}
	}

	resp.Status = httpResp.StatusCode
	if sawContinue {
		resp.Status = StatusNodeContinue
	}
	resp.Headers = httpResp.Header
	resp.Body = body
	resp.Duration = time.Since(start)

	metrics.NodeRequestDuration.WithLabelValues(req.Node.ID).Observe(resp.Duration.Seconds())
	return resp
}

func (c *Client) fail(resp *Response, start time.Time, err error) *Response {
	resp.Status = StatusTransportError
	resp.Err = err
	resp.Duration = time.Since(start)

	metrics.NodeRequestErrors.WithLabelValues(resp.Node.ID).Inc()
	logger := log.WithNode(resp.Node.ID)
	logger.Warn().
		Err(err).
		Str("method", resp.Method).
		Str("path", resp.URI.Path).
		Msg("node request failed")
	return resp
}

// buildRequest maps a Request onto net/http. Parameters for read-only and
// DELETE requests are serialized into the query string; for body-bearing
// methods they form the entity when no explicit body is supplied.
func (c *Client) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	uri := *req.URI
	body := req.Body

	if types.HasRequestBody(req.Method) {
		if body == nil && len(req.Params) > 0 {
			body = strings.NewReader(req.Params.Encode())
		}
	} else if len(req.Params) > 0 {
		uri.RawQuery = mergeQuery(uri.RawQuery, req.Params)
	}

	// The transport bounds the connect and header-read segments; the body
	// stream stays open past Do so that the merger can consume it later
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, uri.String(), body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	if types.HasRequestBody(req.Method) && httpReq.Header.Get(contentTypeHeader) == "" {
		httpReq.Header.Set(contentTypeHeader, defaultContentType)
	}

	httpReq.Header.Set("Accept-Encoding", "gzip")
	return httpReq, nil
}

func mergeQuery(existing string, params url.Values) string {
	if existing == "" {
		return params.Encode()
	}
	return existing + "&" + params.Encode()
}

// gzipBody decodes a gzip-encoded response stream while keeping the
// underlying connection body closable
type gzipBody struct {
	reader     *gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.reader.Read(p)
}

func (g *gzipBody) Close() error {
	g.reader.Close()
	return g.underlying.Close()
}
