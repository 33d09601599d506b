// Package gateway wires the request pipeline: context pool, plugin chain,
// router, cache, rate limiting, load balancing, circuit breaking and
// pooled upstream dispatch.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go-apigateway/internal/balancer"
	"go-apigateway/internal/breaker"
	"go-apigateway/internal/cache"
	"go-apigateway/internal/config"
	"go-apigateway/internal/errors"
	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/health"
	"go-apigateway/internal/metrics"
	"go-apigateway/internal/plugin"
	"go-apigateway/internal/plugins"
	"go-apigateway/internal/router"
	"go-apigateway/internal/timeout"
	"go-apigateway/internal/upstream"

	"github.com/sirupsen/logrus"
)

// HandlerFunc is a built-in route handler running inside the pipeline
type HandlerFunc func(ctx *gwcontext.RequestContext)

// ProxyTarget is a route handler that forwards to an upstream
type ProxyTarget struct {
	UpstreamID string
}

// Gateway is the per-process request pipeline
type Gateway struct {
	config     *config.Config
	logger     *logrus.Logger
	router     *router.Router
	pool       *gwcontext.Pool
	chain      *plugin.Chain
	balancer   *balancer.Balancer
	breakers   map[string]*breaker.Breaker
	upstreams  map[string]*upstream.Upstream
	connPool   *upstream.ConnectionPool
	dispatcher *upstream.Dispatcher
	health     *health.Checker
	cache      *cache.Cache
	timeouts   *timeout.Manager
	cleanup    *timeout.CleanupManager
	aggregator *metrics.Aggregator
	respBuild  *errors.ResponseBuilder

	maxAttempts int
}

// New assembles a gateway from its configuration
func New(cfg *config.Config, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	timeouts := timeout.NewManager(timeout.Config{
		Request: cfg.RequestTimeoutDuration(),
		Idle:    cfg.KeepAliveTimeoutDuration(),
	}, logger)

	g := &Gateway{
		config: cfg,
		logger: logger,
		router: router.New(),
		pool:   gwcontext.NewPool(cfg.Performance.ContextPoolSize),
		chain: plugin.NewChain(plugin.ChainConfig{
			DefaultTimeout: 5 * time.Second,
			CollectMetrics: true,
		}, timeouts, logger),
		balancer:  balancer.New(balancer.RoundRobin, logger),
		breakers:  make(map[string]*breaker.Breaker),
		upstreams: make(map[string]*upstream.Upstream),
		connPool: upstream.NewConnectionPool(upstream.ConnPoolConfig{
			IdleTimeout: cfg.KeepAliveTimeoutDuration(),
		}, logger),
		health: health.New(health.Config{
			UnhealthyThreshold: 3,
			HealthyThreshold:   2,
			GracePeriod:        10 * time.Second,
		}, logger),
		cache:       cache.New(cache.Config{}, logger),
		timeouts:    timeouts,
		cleanup:     timeout.NewCleanupManager(logger),
		aggregator:  metrics.NewAggregator(),
		respBuild:   errors.NewResponseBuilder(cfg.Environment, logger),
		maxAttempts: 2,
	}
	g.dispatcher = upstream.NewDispatcher(g.connPool, timeouts, logger)

	g.registerUpstreams()
	g.registerRoutes()
	g.registerBuiltins()
	return g
}

func (g *Gateway) registerUpstreams() {
	list := make([]*upstream.Upstream, 0, len(g.config.Upstreams))
	for _, uc := range g.config.Upstreams {
		u := upstream.FromConfig(uc)
		g.upstreams[u.ID] = u
		list = append(list, u)
		g.health.Register(u)

		br := breaker.New(u.ID, breaker.Config{}, g.logger)
		br.Subscribe(breaker.EventOpen, func(breaker.Event) {
			metrics.RecordBreakerTrip(u.ID)
		})
		g.breakers[u.ID] = br
	}
	g.balancer.SetUpstreams(list)
}

func (g *Gateway) registerRoutes() {
	for _, rc := range g.config.Routes {
		g.router.Register(rc.Method, rc.Path, &ProxyTarget{UpstreamID: rc.Upstream}, rc.Priority)
	}
}

func (g *Gateway) registerBuiltins() {
	g.router.Register(http.MethodGet, "/health", HandlerFunc(g.handleHealth), 0)
	g.router.Register(http.MethodGet, "/metrics", HandlerFunc(g.handleMetrics), 0)
}

// Chain exposes the plugin chain for registration
func (g *Gateway) Chain() *plugin.Chain {
	return g.chain
}

// Router exposes the route table
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Cache exposes the response cache
func (g *Gateway) Cache() *cache.Cache {
	return g.cache
}

// Aggregator exposes the metrics sink
func (g *Gateway) Aggregator() *metrics.Aggregator {
	return g.aggregator
}

// RegisterConfiguredPlugins instantiates the built-in plugins named in
// the config document.
func (g *Gateway) RegisterConfiguredPlugins() {
	for _, pc := range g.config.Plugins {
		if !pc.Enabled {
			continue
		}
		p := g.buildPlugin(pc)
		if p == nil {
			g.logger.WithField("plugin", pc.Name).Warn("Unknown plugin in configuration")
			continue
		}
		g.chain.Register(p)
	}
}

func (g *Gateway) buildPlugin(pc config.PluginConfig) *plugin.Plugin {
	switch pc.Name {
	case "request-id":
		return plugins.NewRequestID()
	case "access-log":
		return plugins.NewAccessLog(g.logger)
	case "rate-limit":
		settings := plugins.RateLimitSettings{}
		decodeSettings(pc.Settings, &settings)
		return plugins.NewRateLimit(settings)
	case "auth":
		settings := plugins.AuthSettings{}
		decodeSettings(pc.Settings, &settings)
		return plugins.NewAuth(settings)
	}
	return nil
}

// Start initializes plugins and launches background loops
func (g *Gateway) Start() {
	g.chain.InitializeAll()
	g.health.Start()
}

// Shutdown stops background loops and destroys plugins
func (g *Gateway) Shutdown() {
	g.health.Stop()
	g.connPool.Destroy()
	g.timeouts.Shutdown()
	g.cleanup.Shutdown()
	g.chain.DestroyAll()
}

// ServeHTTP drives one request through the pipeline
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.aggregator.ConnOpened()
	metrics.ConnGaugeInc()
	defer func() {
		g.aggregator.ConnClosed()
		metrics.ConnGaugeDec()
	}()

	ctx := g.pool.Acquire()
	defer g.pool.Release(ctx)

	if gwErr := g.populate(ctx, r); gwErr != nil {
		g.fail(w, ctx, gwErr)
		g.record(ctx, r)
		return
	}

	g.run(w, r, ctx)
	g.record(ctx, r)
}

// populate fills the pooled context from the wire request
func (g *Gateway) populate(ctx *gwcontext.RequestContext, r *http.Request) *errors.GatewayError {
	ctx.Method = strings.ToUpper(r.Method)
	ctx.Path = r.URL.Path
	ctx.ClientIP = clientIP(r)

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			ctx.Query[key] = values[0]
		}
	}
	for name, values := range r.Header {
		ctx.Headers[name] = values
	}

	if r.Body != nil && r.ContentLength != 0 {
		limit := int64(g.config.Server.MaxBodySize)
		body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return errors.BodyParserError("failed to read request body", http.StatusBadRequest)
		}
		if int64(len(body)) > limit {
			return errors.BodyParserError("request body exceeds limit", http.StatusRequestEntityTooLarge)
		}
		ctx.Body = append(ctx.Body[:0], body...)
	}
	return nil
}

// run executes the hook pipeline around routing and dispatch
func (g *Gateway) run(w http.ResponseWriter, r *http.Request, ctx *gwcontext.RequestContext) {
	ctx.Timestamps.PluginStart = time.Now()
	if err := g.chain.ExecuteHook(plugin.HookPreRoute, ctx); err != nil {
		g.fail(w, ctx, errors.From(err))
		return
	}
	if ctx.Responded {
		g.finish(w, ctx)
		return
	}

	route := g.router.Match(ctx.Method, ctx.Path, ctx.Params)
	ctx.Timestamps.RouteMatch = time.Now()
	if route == nil {
		g.fail(w, ctx, errors.RouteNotFoundError(ctx.Method, ctx.Path))
		return
	}
	ctx.Route = route

	if err := g.chain.ExecuteHook(plugin.HookPreHandler, ctx); err != nil {
		g.fail(w, ctx, errors.From(err))
		return
	}
	if ctx.Responded {
		g.finish(w, ctx)
		return
	}

	switch handler := route.Handler.(type) {
	case HandlerFunc:
		handler(ctx)
	case *ProxyTarget:
		if gwErr := g.proxy(r.Context(), ctx, handler); gwErr != nil {
			g.fail(w, ctx, gwErr)
			return
		}
	default:
		g.fail(w, ctx, errors.GatewayInternalError("route has no executable handler", nil))
		return
	}

	ctx.Timestamps.PluginEnd = time.Now()
	if err := g.chain.ExecuteHook(plugin.HookPostHandler, ctx); err != nil {
		g.fail(w, ctx, errors.From(err))
		return
	}
	g.finish(w, ctx)
}

// proxy resolves an upstream and forwards, consulting the cache first
func (g *Gateway) proxy(reqCtx context.Context, ctx *gwcontext.RequestContext, target *ProxyTarget) *errors.GatewayError {
	cacheKey := ""
	if ctx.Method == http.MethodGet || ctx.Method == http.MethodHead {
		cacheKey = cache.GenerateKey(ctx.Method, requestURL(ctx), nil)
		if served := g.serveFromCache(ctx, cacheKey); served {
			return nil
		}
	}

	u := g.pickUpstream(ctx, target)
	if u == nil {
		return errors.ConnectionError("no healthy upstream available", nil)
	}
	ctx.Upstream = u

	resp, gwErr := g.dispatch(reqCtx, ctx, u)
	if gwErr != nil {
		return gwErr
	}

	ctx.StatusCode = resp.StatusCode
	for name, values := range resp.Headers {
		ctx.SetResponseHeader(name, strings.Join(values, ", "))
	}
	ctx.ResponseBody = resp.Body

	if cacheKey != "" {
		g.maybeCache(ctx, cacheKey, resp)
	}
	return nil
}

func (g *Gateway) pickUpstream(ctx *gwcontext.RequestContext, target *ProxyTarget) *upstream.Upstream {
	if target.UpstreamID != "" {
		u := g.upstreams[target.UpstreamID]
		if u == nil || !u.Healthy() {
			return nil
		}
		return u
	}
	return g.balancer.Select(balancer.Hints{ClientIP: ctx.ClientIP})
}

// dispatch forwards through the circuit breaker with bounded retries for
// retryable failures. The retry loop runs under the timeout manager's
// request-class budget, so the end-to-end deadline covers every attempt.
func (g *Gateway) dispatch(reqCtx context.Context, ctx *gwcontext.RequestContext, u *upstream.Upstream) (*upstream.Response, *errors.GatewayError) {
	br := g.breakers[u.ID]

	var resp *upstream.Response
	execErr := g.timeouts.ExecuteContext(reqCtx, func(budgetCtx context.Context) error {
		var lastErr *errors.GatewayError
		for attempt := 0; attempt < g.maxAttempts; attempt++ {
			if budgetCtx.Err() != nil {
				break
			}

			err := br.Execute(func() error {
				forwarded, ferr := g.dispatcher.Forward(budgetCtx, ctx, u)
				if ferr != nil {
					return ferr
				}
				if forwarded.StatusCode >= http.StatusInternalServerError {
					// 5xx counts against the breaker window but the
					// response is still returned to the client.
					resp = forwarded
					return errors.UpstreamError("upstream returned "+http.StatusText(forwarded.StatusCode), nil)
				}
				resp = forwarded
				return nil
			})

			latencyMs := float64(time.Since(ctx.StartTime).Microseconds()) / 1000
			if err == nil {
				g.health.RecordOutcome(u.ID, true)
				g.balancer.RecordLatency(u, latencyMs)
				metrics.RecordUpstreamRequest(u.ID, resp.StatusCode)
				return nil
			}

			g.health.RecordOutcome(u.ID, false)
			g.balancer.RecordError(u)
			lastErr = errors.From(err)
			if resp != nil && lastErr.Code == errors.ErrCodeUpstream {
				// Error-status reply: pass the backend's response through.
				metrics.RecordUpstreamRequest(u.ID, resp.StatusCode)
				return nil
			}
			if !lastErr.Retryable {
				break
			}
		}
		if lastErr != nil {
			return lastErr
		}
		return errors.TimeoutError("request", g.config.RequestTimeoutDuration())
	}, timeout.OpRequest, g.config.RequestTimeoutDuration())

	if execErr != nil {
		return nil, errors.From(execErr)
	}
	return resp, nil
}

// serveFromCache answers from the response cache. Stale entries inside
// the stale-while-revalidate window are served as-is and refreshed in the
// background.
func (g *Gateway) serveFromCache(ctx *gwcontext.RequestContext, key string) bool {
	result := g.cache.Get(key)
	if result.Entry == nil {
		metrics.RecordCacheEvent("miss")
		return false
	}

	entry := result.Entry
	if result.Stale {
		metrics.RecordCacheEvent("stale")
		g.revalidate(ctx, key)
	} else {
		metrics.RecordCacheEvent("hit")
	}

	if cache.CheckConditional(ctx.Header("If-None-Match"), ctx.Header("If-Modified-Since"), entry) {
		ctx.StatusCode = http.StatusNotModified
		if entry.ETag != "" {
			ctx.SetResponseHeader("ETag", entry.ETag)
		}
		ctx.SetResponseHeader("X-Cache", "HIT")
		return true
	}

	ctx.StatusCode = entry.Status
	for name, value := range entry.Headers {
		ctx.SetResponseHeader(name, value)
	}
	if entry.ETag != "" {
		ctx.SetResponseHeader("ETag", entry.ETag)
	}
	ctx.SetResponseHeader("X-Cache", "HIT")
	ctx.SetResponseHeader("X-Cache-Age", formatSeconds(time.Since(entry.CachedAt)))
	ctx.ResponseBody = entry.Body
	return true
}

// revalidate refreshes a stale entry off the request path
func (g *Gateway) revalidate(ctx *gwcontext.RequestContext, key string) {
	method, path := ctx.Method, ctx.Path
	clientIP := ctx.ClientIP
	go func() {
		rc := g.pool.Acquire()
		defer g.pool.Release(rc)
		rc.Method = method
		rc.Path = path
		rc.ClientIP = clientIP

		u := g.balancer.Select(balancer.Hints{ClientIP: clientIP})
		if u == nil {
			return
		}
		resp, err := g.dispatcher.Forward(context.Background(), rc, u)
		if err != nil {
			g.logger.WithError(err).WithField("key", key).Debug("Cache revalidation failed")
			return
		}
		g.storeResponse(key, method, resp)
	}()
}

func (g *Gateway) maybeCache(ctx *gwcontext.RequestContext, key string, resp *upstream.Response) {
	g.storeResponse(key, ctx.Method, resp)
}

func (g *Gateway) storeResponse(key, method string, resp *upstream.Response) {
	headers := make(map[string]string, len(resp.Headers))
	for name, values := range resp.Headers {
		headers[name] = strings.Join(values, ", ")
	}
	if !cache.IsCacheable(resp.StatusCode, headers, method) {
		return
	}

	directives := cache.ParseCacheControl(headers["Cache-Control"])
	etag := headers["Etag"]
	if etag == "" {
		etag = cache.GenerateETag(resp.Body)
	}
	entry := &cache.Entry{
		Status:               resp.StatusCode,
		Headers:              headers,
		Body:                 resp.Body,
		TTL:                  cache.GetTTL(directives, 5*time.Minute),
		StaleWhileRevalidate: cache.StaleWhileRevalidate(directives),
		ETag:                 etag,
		LastModified:         headers["Last-Modified"],
	}
	g.cache.Set(key, entry)
}

// finish runs POST_RESPONSE after the bytes are on the wire
func (g *Gateway) finish(w http.ResponseWriter, ctx *gwcontext.RequestContext) {
	g.write(w, ctx)
	if err := g.chain.ExecuteHook(plugin.HookPostResponse, ctx); err != nil {
		g.logger.WithError(err).Debug("POST_RESPONSE hook failed")
	}
	g.cleanup.CleanupRequest(ctx.RequestID)
}

// fail routes an error through ON_ERROR and the envelope builder
func (g *Gateway) fail(w http.ResponseWriter, ctx *gwcontext.RequestContext, gwErr *errors.GatewayError) {
	gwErr.Request = errors.RequestInfo{
		RequestID: ctx.RequestID,
		Method:    ctx.Method,
		Path:      ctx.Path,
	}
	if u, ok := ctx.Upstream.(*upstream.Upstream); ok && u != nil {
		gwErr.Request.Upstream = u.ID
	}

	g.chain.ExecuteError(ctx, gwErr)

	if ctx.Responded {
		// An ON_ERROR plugin produced its own response.
		g.write(w, ctx)
	} else {
		ctx.StatusCode = gwErr.StatusCode
		for name, value := range ctx.ResponseHeaders {
			w.Header().Set(name, value)
		}
		g.respBuild.Write(w, gwErr)
		ctx.Responded = true
	}

	if err := g.chain.ExecuteHook(plugin.HookPostResponse, ctx); err != nil {
		g.logger.WithError(err).Debug("POST_RESPONSE hook failed")
	}
	g.cleanup.CleanupRequest(ctx.RequestID)
}

// write flushes the context's staged response
func (g *Gateway) write(w http.ResponseWriter, ctx *gwcontext.RequestContext) {
	for name, value := range ctx.ResponseHeaders {
		w.Header().Set(name, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	status := ctx.StatusCode
	if status == 0 {
		status = http.StatusOK
		ctx.StatusCode = status
	}
	w.WriteHeader(status)
	if len(ctx.ResponseBody) > 0 {
		w.Write(ctx.ResponseBody)
	}
	ctx.Responded = true
}

// record feeds the aggregator and the Prometheus mirror
func (g *Gateway) record(ctx *gwcontext.RequestContext, r *http.Request) {
	elapsed := ctx.Elapsed()
	latencyMs := float64(elapsed.Microseconds()) / 1000
	isError := ctx.StatusCode >= http.StatusBadRequest

	routeLabel := ctx.Path
	if route, ok := ctx.Route.(*router.Route); ok && route != nil {
		routeLabel = route.Pattern
	}

	g.aggregator.RecordRequest(latencyMs, int64(len(ctx.Body)), int64(len(ctx.ResponseBody)), isError)
	metrics.RecordHTTPRequest(ctx.Method, routeLabel, ctx.StatusCode, elapsed, int64(len(ctx.Body)), int64(len(ctx.ResponseBody)))
}

// requestURL rebuilds path?query with sorted keys so equivalent requests
// produce identical cache keys.
func requestURL(ctx *gwcontext.RequestContext) string {
	if len(ctx.Query) == 0 {
		return ctx.Path
	}
	keys := make([]string, 0, len(ctx.Query))
	for k := range ctx.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ctx.Path)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ctx.Query[k])
	}
	return b.String()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return itoa(secs)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func decodeSettings(settings map[string]interface{}, out interface{}) {
	if settings == nil {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		logrus.WithError(err).Warn("Invalid plugin settings")
	}
}
