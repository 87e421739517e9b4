// Callisto is a raw TCP web front end with per-directory access rules and
// sandboxed Lua scripts.
//
// Each connection is read until a full request head has arrived, checked
// against the per-client rate limiter, filtered through the .passfilter
// rule files of every directory on the request path and finally answered
// with a static file, a redirect, a status response or the output of a
// script running in its own worker process.
//
// Usage:
//
//	# Serve ./www on 0.0.0.0:8080 with built-in defaults
//	callisto run
//
//	# Start with a configuration file and reload it on change
//	callisto run --config /etc/callisto/config.yaml --watch-config
//
//	# Check every rule file below a directory
//	callisto rules lint ./www
//
//	# Show how a request path would be handled
//	callisto rules test /admin/index.lua
//
//	# Inspect and lift bans
//	callisto bans list
//	callisto bans clear 203.0.113.9
//
//	# Query the access journal
//	callisto journal query --client 203.0.113.9 --since 1h
package main

func main() {
	Execute()
}
