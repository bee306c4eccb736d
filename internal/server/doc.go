// Package server hosts the Fiber HTTP service and request middleware chain
// that fronts the interceptor. It bootstraps Fiber, attaches recover and
// request-ID middlewares, reserves the /-/ prefix for control surfaces
// (status, activation hook, devotional glue endpoints) and hands every other
// request to the injected proxy handler. Keep exports narrow and accept
// explicit dependencies so cmd wiring and tests can inject fakes.
package server
