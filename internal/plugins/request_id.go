// Package plugins holds the built-in plugin set
package plugins

import (
	"crypto/rand"
	"encoding/hex"

	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/plugin"
)

// NewRequestID returns the correlation id plugin. It honors an inbound
// X-Request-ID and generates one otherwise; the gateway echoes the id on
// the response.
func NewRequestID() *plugin.Plugin {
	return &plugin.Plugin{
		Name: "request-id",
		PreRoute: func(ctx *gwcontext.RequestContext) error {
			if ctx.RequestID == "" {
				if inbound := ctx.Header("X-Request-ID"); inbound != "" {
					ctx.RequestID = inbound
				} else {
					ctx.RequestID = NewID()
				}
			}
			ctx.SetResponseHeader("X-Request-ID", ctx.RequestID)
			return nil
		},
	}
}

// NewID returns a 16-byte random hex id
func NewID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; fall back to a fixed marker rather than crash.
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(buf[:])
}
