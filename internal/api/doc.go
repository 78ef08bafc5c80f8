// Package api hosts the HTTP server that fronts an upstream site with the
// botmd middleware. Notable routes:
//   - GET /_botmd/healthz and /_botmd/readyz for Kubernetes probes.
//   - GET /_botmd/metrics for Prometheus scraping.
//   - GET and DELETE /_botmd/cache for cache inspection and purging.
//   - Everything else is offered to the middleware and, unless Markdown is
//     served, reverse proxied to the upstream.
package api
