// Package health provides liveness and readiness endpoints for the admin
// server.
//
// # Endpoints
//
//   - /health: liveness, always 200 while the process runs
//   - /ready: readiness, 503 when a component check fails or the server
//     is draining
//   - /version: build information
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("root", health.DirectoryCheck(cfg.Server.Root))
//	checker.RegisterCheck("worker", health.ExecutableCheck(cfg.Sandbox.WorkerBinary))
//	checker.Register(mux, "/health", "/ready", health.VersionInfo{Version: version})
//
// On shutdown the server calls SetDraining(true) first so load balancers
// stop routing new connections while in-flight requests complete.
package health
