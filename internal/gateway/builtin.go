package gateway

import (
	"encoding/json"
	"net/http"

	"go-apigateway/internal/gwcontext"
)

type healthBody struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// handleHealth serves the built-in liveness endpoint
func (g *Gateway) handleHealth(ctx *gwcontext.RequestContext) {
	body, _ := json.Marshal(healthBody{
		Status: "ok",
		Uptime: g.aggregator.Uptime().Seconds(),
	})
	ctx.Respond(http.StatusOK, "application/json", body)
}

// metricsBody is the snapshot document served at /metrics
type metricsBody struct {
	Aggregator  interface{} `json:"aggregator"`
	ContextPool interface{} `json:"contextPool"`
	Connections interface{} `json:"connections"`
	Cache       interface{} `json:"cache"`
	Balancer    interface{} `json:"balancer"`
	Plugins     interface{} `json:"plugins"`
}

// handleMetrics serves the aggregator snapshot as JSON
func (g *Gateway) handleMetrics(ctx *gwcontext.RequestContext) {
	body, err := json.Marshal(metricsBody{
		Aggregator:  g.aggregator.GetSnapshot(),
		ContextPool: g.pool.Stats(),
		Connections: g.connPool.Stats(),
		Cache:       g.cache.Stats(),
		Balancer:    g.balancer.GetMetrics(),
		Plugins:     g.chain.MetricsSnapshot(),
	})
	if err != nil {
		ctx.Respond(http.StatusInternalServerError, "application/json", []byte(`{"error":"snapshot failed"}`))
		return
	}
	ctx.Respond(http.StatusOK, "application/json", body)
}
