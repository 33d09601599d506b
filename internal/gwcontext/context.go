// Package gwcontext holds the pooled per-request record and its free list
package gwcontext

import (
	"time"
)

// Timestamps records lifecycle milestones for one request
type Timestamps struct {
	RouteMatch    time.Time
	PluginStart   time.Time
	PluginEnd     time.Time
	UpstreamStart time.Time
	UpstreamEnd   time.Time
}

// RequestContext is the per-request record. Instances come from a Pool and
// are reset to zero values on release.
type RequestContext struct {
	RequestID string
	StartTime time.Time

	Method  string
	Path    string
	Query   map[string]string
	Params  map[string]string
	Headers map[string][]string
	Body    []byte

	Route    interface{} // matched route descriptor, nil until PRE_HANDLER
	Upstream interface{} // selected upstream, nil until dispatch

	ClientIP string

	// Responded short-circuits the remaining pipeline once true; response
	// mutations after that point are rejected.
	Responded       bool
	StatusCode      int
	ResponseHeaders map[string]string
	ResponseBody    []byte

	Timestamps Timestamps

	pluginState map[string]map[string]interface{}
	pooled      bool
	released    bool
}

// SharedStateKey is the bag name every plugin may read and write in
// addition to its own.
const SharedStateKey = "__shared"

// PluginState returns the named plugin's state bag, creating it on first
// use. Plugins access only their own bag plus the shared bag.
func (c *RequestContext) PluginState(plugin string) map[string]interface{} {
	if c.pluginState == nil {
		c.pluginState = make(map[string]map[string]interface{})
	}
	bag := c.pluginState[plugin]
	if bag == nil {
		bag = make(map[string]interface{})
		c.pluginState[plugin] = bag
	}
	return bag
}

// SharedState returns the cross-plugin bag
func (c *RequestContext) SharedState() map[string]interface{} {
	return c.PluginState(SharedStateKey)
}

// Respond records a response on the context and marks it responded,
// short-circuiting the rest of the pipeline. Once responded, further
// calls are ignored.
func (c *RequestContext) Respond(status int, contentType string, body []byte) bool {
	if c.Responded {
		return false
	}
	c.Responded = true
	c.StatusCode = status
	if c.ResponseHeaders == nil {
		c.ResponseHeaders = make(map[string]string, 8)
	}
	if contentType != "" {
		c.ResponseHeaders["Content-Type"] = contentType
	}
	c.ResponseBody = body
	return true
}

// SetResponseHeader stages a header for the eventual response. Ignored
// once the context has been responded to.
func (c *RequestContext) SetResponseHeader(name, value string) {
	if c.Responded {
		return
	}
	if c.ResponseHeaders == nil {
		c.ResponseHeaders = make(map[string]string, 8)
	}
	c.ResponseHeaders[name] = value
}

// Header returns the first value of a case-insensitively matched header
func (c *RequestContext) Header(name string) string {
	if values := c.Headers[canonicalKey(name)]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// SetHeader replaces a request header value
func (c *RequestContext) SetHeader(name, value string) {
	if c.Headers == nil {
		c.Headers = make(map[string][]string)
	}
	c.Headers[canonicalKey(name)] = []string{value}
}

// Elapsed reports time since the request was accepted
func (c *RequestContext) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// reset clears every field so a released context carries nothing over
func (c *RequestContext) reset() {
	c.RequestID = ""
	c.StartTime = time.Time{}
	c.Method = ""
	c.Path = ""
	for k := range c.Query {
		delete(c.Query, k)
	}
	for k := range c.Params {
		delete(c.Params, k)
	}
	for k := range c.Headers {
		delete(c.Headers, k)
	}
	c.Body = c.Body[:0]
	c.Route = nil
	c.Upstream = nil
	c.ClientIP = ""
	c.Responded = false
	c.StatusCode = 0
	for k := range c.ResponseHeaders {
		delete(c.ResponseHeaders, k)
	}
	c.ResponseBody = nil
	c.Timestamps = Timestamps{}
	for k := range c.pluginState {
		delete(c.pluginState, k)
	}
	c.released = false
}

// canonicalKey normalizes a header name the way net/http does, without
// importing textproto on the hot path for the common already-canonical case.
func canonicalKey(name string) string {
	upper := true
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if upper && 'a' <= ch && ch <= 'z' {
			return slowCanonical(name)
		}
		if !upper && 'A' <= ch && ch <= 'Z' {
			return slowCanonical(name)
		}
		upper = ch == '-'
	}
	return name
}

func slowCanonical(name string) string {
	b := []byte(name)
	upper := true
	for i, ch := range b {
		if upper && 'a' <= ch && ch <= 'z' {
			b[i] = ch - 'a' + 'A'
		} else if !upper && 'A' <= ch && ch <= 'Z' {
			b[i] = ch - 'A' + 'a'
		}
		upper = ch == '-'
	}
	return string(b)
}
