// Package filter evaluates directory scoped .passfilter rule cascades.
//
// # Rule Files
//
// A rule file is a JSON array placed in any directory of the serving root:
//
//	[
//	  {"action": "deny", "includes": ["/private", "*.bak"]},
//	  {"action": "forward", "includes": ["old"], "to": "new/index.html"},
//	  {"action": "deny", "includes": ["/admin"], "to": 404}
//	]
//
// Each rule applies to requests below its own directory and sees the path
// relative to that directory. Tokens starting with "/" must equal the first
// relative segment; all other tokens match anywhere. "*" and "?" are
// wildcards.
//
// # Evaluation
//
// Engine.Evaluate walks from the deepest directory of the request path up to
// the root and stops at the first rule with a matching token:
//
//   - pass: the request continues unchanged
//   - deny: "to" as a number is the status, as a string a rewrite target;
//     without "to" the status is 403
//   - forward: like deny with 500 as the default
//
// Rule files are read on every request by default. Wrapping the DiskSource
// in a CachedSource and running a Watcher keeps parsed files in memory and
// drops them when the files change.
package filter
