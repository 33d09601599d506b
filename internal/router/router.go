// Package router implements the gateway route table: an O(1) static map,
// a per-method radix tree for parameterized patterns and an ordered
// wildcard fallback list.
package router

import (
	"sort"
	"strings"
)

// Route is one entry of the route table
type Route struct {
	Method   string
	Pattern  string
	Handler  interface{}
	Priority int

	kind          routeKind
	literalPrefix string
	order         int
}

type routeKind int

const (
	kindStatic routeKind = iota
	kindParam
	kindWildcard
)

// Router matches methods and paths to registered routes. Static lookups
// are O(1); parameterized lookups are O(depth). Matching writes captured
// parameters into a caller-supplied map and never allocates.
type Router struct {
	static    map[string]map[string]*Route
	trees     map[string]*node
	wildcards map[string][]*Route
	nextOrder int
}

// New creates an empty router
func New() *Router {
	return &Router{
		static:    make(map[string]map[string]*Route),
		trees:     make(map[string]*node),
		wildcards: make(map[string][]*Route),
	}
}

// Register adds a route. A duplicate (method, pattern) pair overwrites the
// previous registration. Patterns are literal paths, paths with ":name"
// segments, or paths with a trailing "*" wildcard.
func (r *Router) Register(method, pattern string, handler interface{}, priority int) *Route {
	method = strings.ToUpper(method)
	route := &Route{
		Method:   method,
		Pattern:  pattern,
		Handler:  handler,
		Priority: priority,
		order:    r.nextOrder,
	}
	r.nextOrder++

	switch {
	case strings.HasSuffix(pattern, "*"):
		route.kind = kindWildcard
		route.literalPrefix = strings.TrimSuffix(pattern, "*")
		r.registerWildcard(route)
	case strings.Contains(pattern, ":"):
		route.kind = kindParam
		r.tree(method).insert(pattern, route)
	default:
		route.kind = kindStatic
		byPath := r.static[method]
		if byPath == nil {
			byPath = make(map[string]*Route)
			r.static[method] = byPath
		}
		byPath[pattern] = route
	}
	return route
}

func (r *Router) tree(method string) *node {
	t := r.trees[method]
	if t == nil {
		t = &node{}
		r.trees[method] = t
	}
	return t
}

func (r *Router) registerWildcard(route *Route) {
	list := r.wildcards[route.Method]
	for i, existing := range list {
		if existing.Pattern == route.Pattern {
			list[i] = route
			return
		}
	}
	list = append(list, route)
	// Longer literal prefix wins; ties broken by registration order.
	sort.SliceStable(list, func(i, j int) bool {
		if len(list[i].literalPrefix) != len(list[j].literalPrefix) {
			return len(list[i].literalPrefix) > len(list[j].literalPrefix)
		}
		return list[i].order < list[j].order
	})
	r.wildcards[route.Method] = list
}

// Match resolves method and path to a route. Captured parameters are
// written into params, which may be nil when the caller does not need
// them. Paths compare byte-for-byte; a literal match beats a parameter
// match at the same depth, and any parameter match beats a wildcard.
func (r *Router) Match(method, path string, params map[string]string) *Route {
	if byPath := r.static[method]; byPath != nil {
		if route := byPath[path]; route != nil {
			return route
		}
	}
	if t := r.trees[method]; t != nil {
		if route := t.match(path, params); route != nil {
			return route
		}
	}
	for _, route := range r.wildcards[method] {
		if strings.HasPrefix(path, route.literalPrefix) {
			return route
		}
	}
	return nil
}

// Len reports the number of registered routes
func (r *Router) Len() int {
	n := 0
	for _, byPath := range r.static {
		n += len(byPath)
	}
	for _, t := range r.trees {
		n += t.count()
	}
	for _, list := range r.wildcards {
		n += len(list)
	}
	return n
}
