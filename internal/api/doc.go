// Package api hosts the HTTP server, middleware, and REST handlers of the
// gateway. Notable routes:
//   - POST /studios creates (if needed) and starts a studio.
//   - DELETE /studios/{studio_id} stops a studio.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//
// Lightning credentials travel in the LIGHTNING_USER_ID and LIGHTNING_API_KEY
// headers and are forwarded to the backend untouched.
package api
