// Package server provides the raw TCP front end.
//
// Each accepted connection is served by one goroutine that walks an
// explicit state machine:
//
//	Idle ──first byte──▶ Reading ──head complete──▶ Dispatching
//	                        │                          │
//	                        │ 431                      ├── status, redirect, static ──▶ Responding
//	                        ▼                          │
//	                    Responding                     └── script ──▶ AwaitingSandbox
//
//	Responding, AwaitingSandbox ──reusable──▶ Idle
//	any state ──error, refusal, EOF──▶ Closed
//
// # Request Pipeline
//
//  1. Bytes are accumulated until the blank line ending the head. More
//     than MaxPacketSize bytes is answered with 431.
//  2. The client address is derived from the head and checked by the
//     Admitter. A banned client gets 429.
//  3. The request line is validated: 418 when malformed, 405 for an
//     unknown method.
//  4. The rule cascade produces a verdict and the resolver a target.
//  5. The target is answered: a bare status, a 301 redirect, a streamed
//     file, or a sandbox worker that writes to the socket itself.
//
// Refusals and errors close the connection. Redirects, static files and
// cleanly exited workers return it to Idle with deadlines cleared and the
// accumulator emptied.
//
// # Basic Usage
//
//	engine := filter.NewEngine(cfg.Server.Root, source, cfg.Filter.DefaultDocuments, logger)
//	resolver := dispatch.NewResolver(cfg.Server.Root, cfg.Filter.DefaultDocuments, cfg.Sandbox.ScriptExtension)
//
//	srv := server.NewServer(&cfg.Server, engine, resolver,
//	    server.WithAdmitter(limiter),
//	    server.WithExecutor(manager),
//	    server.WithMetrics(collector),
//	)
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Shutdown closes the listener, marks the health checker as draining,
// closes idle connections and waits up to ShutdownTimeout for the others
// to finish their current request. Workers that still hold a socket keep
// running until their own lifetime ends.
//
// # Admin Surface
//
// AdminServer is an ordinary net/http server for /metrics, /health, /ready
// and /version, bound to TelemetryConfig.AdminAddress.
package server
