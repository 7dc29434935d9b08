package testutil

import (
	"net/http"
	"time"

	"roster/pkg/domain"
	"roster/pkg/requestcontext"
)

// WithActor puts the actor in the request context, as RequireAuth would.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithRequestTime pins the request clock, as the RequestTime middleware would.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
