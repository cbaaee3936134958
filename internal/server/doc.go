// Package server exposes the review service over HTTP.
//
// # API Endpoints
//
//   - POST /review: open a review ({"path", "create"})
//   - GET /review: list open reviews
//   - GET /review/{id}: an open review, or a closed one from history
//   - POST /review/{id}/update: stream content ({"content", "final"})
//   - POST /review/{id}/edit: search/replace against the original ({"replacements"})
//   - POST /review/{id}/approve: save and return the ReviewResult
//   - POST /review/{id}/reject: revert
//   - GET|PUT|DELETE /review/{id}/surface: read, edit as a human, or close the surface
//   - GET /history: closed reviews (?path=glob&status=&limit=)
//   - GET /event: SSE stream of bus events (?review=id to filter)
//
// Errors use the ErrorResponse envelope. A closed surface maps to 410 Gone,
// lifecycle misuse (approve before final, busy path) to 409 Conflict, and a
// failed search/replace to 422 with the failing block index in details.
//
// # Usage Example
//
//	cfg := server.DefaultConfig()
//	cfg.Port = 4097
//
//	srv := server.New(cfg, reviews, host, nil)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
//
// # SSE
//
// /event reads the watermill mirror of the event bus (Bus.Stream) and
// writes each JSON payload as a "message" event, acking after the write. A
// heartbeat comment goes out every SSEHeartbeatInterval.
package server
