package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-apigateway/internal/errors"
	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/timeout"

	"github.com/sirupsen/logrus"
)

// Response is the buffered upstream reply handed back to the pipeline
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Hop-by-hop headers are stripped in both directions
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Dispatcher forwards requests over pooled connections. Single-attempt
// budgets are enforced by the shared timeout manager under its upstream
// operation class.
type Dispatcher struct {
	pool     *ConnectionPool
	timeouts *timeout.Manager
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher over pool
func NewDispatcher(pool *ConnectionPool, timeouts *timeout.Manager, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeouts == nil {
		timeouts = timeout.NewManager(timeout.Config{}, logger)
	}
	return &Dispatcher{pool: pool, timeouts: timeouts, logger: logger}
}

// Forward sends rc to u and buffers the reply. One call is one attempt;
// retry policy lives with the caller. The pooled connection is always
// released, poisoned when the attempt died mid-stream.
func (d *Dispatcher) Forward(ctx context.Context, rc *gwcontext.RequestContext, u *Upstream) (*Response, error) {
	pc, err := d.pool.Acquire(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp *Response
	var poisoned bool

	rc.Timestamps.UpstreamStart = time.Now()
	execErr := d.timeouts.ExecuteContext(ctx, func(attemptCtx context.Context) error {
		r, p, aerr := d.attempt(attemptCtx, rc, u, pc)
		resp, poisoned = r, p
		return aerr
	}, timeout.OpUpstream, u.RequestTimeout)
	rc.Timestamps.UpstreamEnd = time.Now()

	if execErr != nil {
		if ge, ok := execErr.(*errors.GatewayError); ok {
			switch ge.Code {
			case errors.ErrCodeTimeout:
				// The manager gave up before the attempt surfaced its
				// own verdict; bytes may be in flight on the socket.
				resp, poisoned = nil, true
				execErr = errors.TimeoutError("upstream "+u.ID, u.RequestTimeout)
			case errors.ErrCodeConnection:
				resp, poisoned = nil, true
			}
		}
		d.pool.Release(u, pc, poisoned)
		return nil, execErr
	}

	d.pool.Release(u, pc, poisoned)
	return resp, nil
}

func (d *Dispatcher) attempt(ctx context.Context, rc *gwcontext.RequestContext, u *Upstream, pc *PooledConnection) (*Response, bool, error) {
	target, err := d.buildURL(rc, u)
	if err != nil {
		return nil, false, errors.UpstreamError("invalid upstream URL", err)
	}

	var body io.Reader
	if len(rc.Body) > 0 {
		body = bytes.NewReader(rc.Body)
	}
	req, err := http.NewRequestWithContext(ctx, rc.Method, target, body)
	if err != nil {
		return nil, false, errors.UpstreamError("build upstream request", err)
	}

	for name, values := range rc.Headers {
		if isHopHeader(name) {
			continue
		}
		req.Header[name] = values
	}
	req.Header.Set("X-Forwarded-For", rc.ClientIP)

	resp, err := pc.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			// Bytes may have crossed the wire; poison the connection.
			return nil, true, errors.TimeoutError("upstream "+u.ID, u.RequestTimeout)
		}
		if ctx.Err() == context.Canceled {
			return nil, true, errors.ConnectionError("request canceled", ctx.Err())
		}
		return nil, true, errors.UpstreamError("upstream "+u.ID+" request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.UpstreamError("read upstream response", err)
	}

	headers := make(http.Header, len(resp.Header))
	for name, values := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		headers[name] = values
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       payload,
	}, false, nil
}

func (d *Dispatcher) buildURL(rc *gwcontext.RequestContext, u *Upstream) (string, error) {
	base := u.BaseURL()
	path := rc.Path
	if strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/") {
		path = path[1:]
	}
	target := base + path
	if len(rc.Query) > 0 {
		values := url.Values{}
		for k, v := range rc.Query {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}
	if _, err := url.Parse(target); err != nil {
		return "", err
	}
	return target, nil
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
