package plugins

import (
	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/plugin"

	"github.com/sirupsen/logrus"
)

// NewAccessLog returns the structured per-request log line plugin
func NewAccessLog(logger *logrus.Logger) *plugin.Plugin {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &plugin.Plugin{
		Name: "access-log",
		PostResponse: func(ctx *gwcontext.RequestContext) error {
			logger.WithFields(logrus.Fields{
				"request_id": ctx.RequestID,
				"method":     ctx.Method,
				"path":       ctx.Path,
				"status":     ctx.StatusCode,
				"client_ip":  ctx.ClientIP,
				"elapsed_ms": float64(ctx.Elapsed().Microseconds()) / 1000,
			}).Info("request")
			return nil
		},
		OnError: func(ctx *gwcontext.RequestContext, err error) error {
			logger.WithError(err).WithFields(logrus.Fields{
				"request_id": ctx.RequestID,
				"method":     ctx.Method,
				"path":       ctx.Path,
			}).Error("request failed")
			return nil
		},
	}
}
