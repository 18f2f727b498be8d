// Package statesyncecho mounts a statesync app on the Echo framework.
//
// Mount the app onto an Echo instance:
//
//	e := echo.New()
//	srv, err := statesyncecho.Mount(e, app)
//
// Or under a group, sharing its middleware:
//
//	g := e.Group("/app", authMiddleware)
//	srv, err := statesyncecho.MountGroup(g, app)
//
// Only the routes are mounted. Pruning idle sessions is left to the
// caller, through server.Server.Run or app.Sessions.Prune.
package statesyncecho

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/server"
)

// Option configures the Mount and MountGroup functions.
type Option func(*options)

type options struct {
	cfg  *statesync.Config
	path string
}

// WithConfig sets the configuration of the mounted server. Defaults to
// the app's configuration.
func WithConfig(cfg *statesync.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithPath sets the URL path prefix of the app routes, relative to the
// instance or group. Defaults to "/".
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// Mount creates a server for app and mounts its routes on an Echo
// instance.
//
//	srv, err := statesyncecho.Mount(e, app, statesyncecho.WithPath("/ui/"))
func Mount(e *echo.Echo, app *statesync.App, opts ...Option) (*server.Server, error) {
	srv, o, err := newServer(app, opts)
	if err != nil {
		return nil, err
	}
	e.Any(o.path+"*", wrap(srv.Handler()))
	return srv, nil
}

// MountGroup creates a server for app and mounts its routes on an Echo
// group.
func MountGroup(g *echo.Group, app *statesync.App, opts ...Option) (*server.Server, error) {
	srv, o, err := newServer(app, opts)
	if err != nil {
		return nil, err
	}
	g.Any(o.path+"*", wrap(srv.Handler()))
	return srv, nil
}

func newServer(app *statesync.App, opts []Option) (*server.Server, *options, error) {
	o := &options{path: "/"}
	for _, opt := range opts {
		opt(o)
	}
	if o.path == "" || o.path[len(o.path)-1] != '/' {
		o.path += "/"
	}
	srv, err := server.New(app, o.cfg)
	if err != nil {
		return nil, nil, err
	}
	return srv, o, nil
}

// wrap serves h with the request path rewritten to the part matched by
// the route wildcard, so the server sees its routes at the root.
func wrap(h http.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/" + c.Param("*")
		r2.URL.RawPath = ""
		h.ServeHTTP(c.Response(), r2)
		return nil
	}
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return statesyncecho.Render(c, server.Page("My app"))
//	}
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}
