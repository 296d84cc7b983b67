// Package server wires the kartbot relay together and fronts it with HTTP.
//
// # Overview
//
// The server package is the central coordinator of the relay. It owns
// every long-lived component: the session store, the upstream call gate,
// the assistant client, the conversation service, the rate limiter, and
// the metrics collector.
//
// # HTTP API
//
// The server exposes these endpoints in api.go:
//
//   - POST /api/chat - Send a message, receive the assembled reply
//   - POST /api/reset-thread - Drop a session and its upstream thread
//   - GET /api/status - Runtime metrics (requires the configured status key)
//   - GET /health - Liveness check
//   - GET / - Embedded chat UI
//   - GET /static/ - Chat UI assets
//
// # Request Flow
//
// A chat request passes through the API middleware (CORS, per-IP rate
// limiting, request accounting), then into the conversation service,
// which resolves the session, admits each upstream call through the gate,
// and assembles the streamed reply. Failures are classified by the
// conversation package and mapped to HTTP statuses here:
//
//	400 - empty or malformed message
//	404 - unknown session on reset
//	429 - per-IP rate limit exceeded
//	503 - gate queue full or session table full
//	500 - thread creation, message append, or stream failure
//
// # Lifecycle
//
// Start the server:
//
//	srv, err := server.New(cfg, logger)
//	err = srv.Run(ctx)
//
// Run blocks until ctx is canceled, then shuts the HTTP server down
// gracefully and closes the session store and rate limiter.
//
// # Key Files
//
//   - server.go: Server struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers, middleware, error mapping
package server
