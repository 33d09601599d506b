package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/metrics"
	"go-apigateway/internal/plugin"
	"go-apigateway/internal/ratelimit"
)

// RateLimitSettings configures the built-in throttle plugin
type RateLimitSettings struct {
	Algorithm   string   `json:"algorithm"` // token-bucket or sliding-window
	Capacity    float64  `json:"capacity"`
	RefillRate  float64  `json:"refillRate"`
	WindowMs    int      `json:"windowMs"`
	MaxRequests int      `json:"maxRequests"`
	MaxKeys     int      `json:"maxKeys"`
	Routes      []string `json:"routes"` // globs; empty = every route
	StatusCode  int      `json:"statusCode"`
}

type rateLimitBody struct {
	Error      string  `json:"error"`
	Limit      float64 `json:"limit"`
	Remaining  float64 `json:"remaining"`
	ResetIn    float64 `json:"resetIn"`
	RetryAfter float64 `json:"retryAfter"`
}

// NewRateLimit returns the throttle plugin. Requests are keyed by client
// IP; a denial produces the 429 envelope plus the X-RateLimit-* headers.
func NewRateLimit(settings RateLimitSettings) *plugin.Plugin {
	if settings.StatusCode == 0 {
		settings.StatusCode = 429
	}

	var bucket *ratelimit.TokenBucket
	var window *ratelimit.SlidingWindow
	if settings.Algorithm == "sliding-window" {
		window = ratelimit.NewSlidingWindow(ratelimit.SlidingWindowConfig{
			Window:      time.Duration(settings.WindowMs) * time.Millisecond,
			MaxRequests: settings.MaxRequests,
			MaxKeys:     settings.MaxKeys,
		})
	} else {
		bucket = ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
			Capacity:   settings.Capacity,
			RefillRate: settings.RefillRate,
			MaxBuckets: settings.MaxKeys,
		})
	}

	var routes []*regexp.Regexp
	if len(settings.Routes) > 0 {
		routes = compileGlobs(settings.Routes)
	}

	return &plugin.Plugin{
		Name: "rate-limit",
		PreHandler: func(ctx *gwcontext.RequestContext) error {
			if routes != nil && !matchesAny(routes, ctx.Path) {
				return nil
			}

			var result ratelimit.Result
			if window != nil {
				result = window.Consume(ctx.ClientIP)
			} else {
				result = bucket.Consume(ctx.ClientIP, 1)
			}

			// Whole requests left; a fractional refill does not count.
			remaining := float64(int64(result.Remaining))
			ctx.SetResponseHeader("X-RateLimit-Limit", fmt.Sprintf("%.0f", result.Limit))
			ctx.SetResponseHeader("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))
			ctx.SetResponseHeader("X-RateLimit-Reset", fmt.Sprintf("%.0f", result.ResetIn))

			if result.Allowed {
				return nil
			}

			metrics.RecordRateLimitHit()
			ctx.SetResponseHeader("Retry-After", fmt.Sprintf("%.0f", ceilSeconds(result.RetryAfter)))
			body, _ := json.Marshal(rateLimitBody{
				Error:      "rate limit exceeded",
				Limit:      result.Limit,
				Remaining:  remaining,
				ResetIn:    result.ResetIn,
				RetryAfter: result.RetryAfter,
			})
			ctx.Respond(settings.StatusCode, "application/json", body)
			return nil
		},
	}
}

func ceilSeconds(secs float64) float64 {
	if secs <= 0 {
		return 60
	}
	whole := float64(int64(secs))
	if secs > whole {
		return whole + 1
	}
	return whole
}
