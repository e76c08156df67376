// Package protocol describes how HTTP surfaces register their routes.
package protocol

import "net/http"

// EndpointRoute binds one method and path to a handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
	// Private routes require a session.
	Private bool
	// Limited routes go through the per-user rate limiter. They must also be private.
	Limited bool
}

// Endpoint groups the routes of one surface.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
