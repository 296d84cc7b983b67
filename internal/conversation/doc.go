// Package conversation orchestrates one chat exchange end to end.
//
// # Overview
//
// The Service resolves a session to its upstream thread (creating and
// seeding a new thread when needed), appends the user's message, runs
// the assistant, and assembles the streamed deltas into a single reply.
// Concurrent messages for the same session id are serialized; different
// sessions proceed independently.
//
// # Error Taxonomy
//
// Every failure is classified into an *Error carrying a stable code, an
// HTTP status, and a user-safe message. The transport layer maps these
// without inspecting causes:
//
//	server_busy           503
//	thread_init_failed    500
//	message_append_failed 500
//	stream_failed         500
//	session_not_found     404
//	empty_message         400
//
// A stream failure discards any partially assembled text: the caller
// gets a reply or an error, never both.
package conversation
