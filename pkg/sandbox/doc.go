// Package sandbox executes scripts in separate worker processes.
//
// The Manager spawns one worker per job and talks to it over a unix socket
// pair installed as descriptor ChannelFD. The exchange is a short sequence
// of newline delimited JSON messages:
//
//	worker -> parent  {"status":"ready"}
//	parent -> worker  RequestMessage + client socket (SCM_RIGHTS)
//	worker -> parent  {"status":"Done"} or {"status":"Error","error":{...}}
//
// The worker writes the HTTP response straight to the client socket and
// exits. The parent keeps its own descriptor but leaves it alone until the
// worker is gone; after a clean exit the connection can take the next
// request.
//
// Lifetime is enforced by the parent. A worker still running after
// Lifetime+Grace is killed and the client receives exactly one 504.
package sandbox
