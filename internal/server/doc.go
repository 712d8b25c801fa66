// Package server hosts the Fiber HTTP service and its middleware chain:
// request IDs, panic recovery and the JSON 404 fallback. It mounts the
// image handler on GET /image and leaves the /-/ namespace to the
// diagnostics routes, so keep exports narrow and accept explicit
// dependencies.
package server
