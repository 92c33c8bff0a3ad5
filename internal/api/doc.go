// Package api hosts the debug HTTP server for a running stream client.
// Notable routes:
//   - GET /healthz / readyz for liveness and channel readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status and GET|DELETE /v1/history to inspect the channel.
//   - POST /v1/connect and /v1/disconnect to drive it by hand.
//   - GET /v1/entities/{entity_id} for a projection built from history.
package api
