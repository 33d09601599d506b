// Package plugin implements the ordered hook chain the request pipeline
// dispatches through.
package plugin

import (
	"time"

	"go-apigateway/internal/gwcontext"
)

// Hook names one of the seven extension points in the request pipeline
type Hook string

const (
	HookInit         Hook = "INIT"
	HookPreRoute     Hook = "PRE_ROUTE"
	HookPreHandler   Hook = "PRE_HANDLER"
	HookPostHandler  Hook = "POST_HANDLER"
	HookPostResponse Hook = "POST_RESPONSE"
	HookOnError      Hook = "ON_ERROR"
	HookDestroy      Hook = "DESTROY"
)

// HookFunc handles one lifecycle hook for one request
type HookFunc func(ctx *gwcontext.RequestContext) error

// ErrorHookFunc receives the pipeline error alongside the context
type ErrorHookFunc func(ctx *gwcontext.RequestContext, err error) error

// Plugin is a named record implementing any subset of the hook points.
// Nil hook funcs are skipped without cost.
type Plugin struct {
	Name    string
	Order   int
	Timeout time.Duration // per-hook budget; 0 uses the chain default

	Init         func() error
	PreRoute     HookFunc
	PreHandler   HookFunc
	PostHandler  HookFunc
	PostResponse HookFunc
	OnError      ErrorHookFunc
	Destroy      func() error
}

func (p *Plugin) hookFunc(hook Hook) HookFunc {
	switch hook {
	case HookPreRoute:
		return p.PreRoute
	case HookPreHandler:
		return p.PreHandler
	case HookPostHandler:
		return p.PostHandler
	case HookPostResponse:
		return p.PostResponse
	}
	return nil
}
