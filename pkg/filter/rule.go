package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Action is what a matching rule does with the request.
type Action string

const (
	// ActionPass stops the cascade and leaves the request untouched.
	ActionPass Action = "pass"

	// ActionDeny rejects the request (403 unless the rule says otherwise)
	// or rewrites it to another path.
	ActionDeny Action = "deny"

	// ActionForward behaves like deny with 500 as the default status.
	ActionForward Action = "forward"
)

// DefaultStatus returns the status a matching rule without a target
// responds with. Zero means the request continues.
func (a Action) DefaultStatus() int {
	switch a {
	case ActionDeny:
		return 403
	case ActionForward:
		return 500
	default:
		return 0
	}
}

// Known reports whether a is one of the defined actions.
func (a Action) Known() bool {
	return a == ActionPass || a == ActionDeny || a == ActionForward
}

// Target is the optional "to" of a rule: either a status code or a path
// relative to the rule's directory.
type Target struct {
	Status int
	Path   string

	// IsPath is set for string targets, including the empty string which
	// rewrites to the rule's own directory.
	IsPath bool
}

// IsZero reports whether the rule has no usable target.
func (t Target) IsZero() bool {
	return t.Status == 0 && !t.IsPath
}

// Rule is one entry of a rule file.
type Rule struct {
	// Root is the URL directory the rule file lives in, without a trailing
	// slash. The serving root is "".
	Root string

	// Action is what the rule does when one of its tokens matches.
	Action Action

	// Includes are the raw tokens in file order.
	Includes []string

	// To is the optional target.
	To Target

	// Index is the position of the rule inside its file.
	Index int

	tokens []*token
	inert  bool
}

// Inert reports whether the rule lacks an action or includes and can never
// fire.
func (r *Rule) Inert() bool {
	return r.inert
}

// String returns a short description used in logs.
func (r *Rule) String() string {
	root := r.Root
	if root == "" {
		root = "/"
	}
	return fmt.Sprintf("%s[%d] %s", root, r.Index, r.Action)
}

type rawRule struct {
	Action   string          `json:"action"`
	Includes []string        `json:"includes"`
	To       json.RawMessage `json:"to"`
}

// ParseRules decodes a rule file. root is the URL directory the file was
// found in and is attached to every rule. A document that is not a JSON
// array of objects is an error; individual rules with missing fields are
// kept but inert.
func ParseRules(filePath string, data []byte, root string) ([]*Rule, error) {
	var raw []rawRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newParseError(filePath, data, err)
	}

	rules := make([]*Rule, 0, len(raw))
	for i, rr := range raw {
		rule := &Rule{
			Root:     root,
			Action:   Action(rr.Action),
			Includes: rr.Includes,
			To:       parseTarget(rr.To),
			Index:    i,
			inert:    rr.Action == "" || rr.Includes == nil,
		}
		for _, inc := range rr.Includes {
			rule.tokens = append(rule.tokens, compileToken(inc))
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// parseTarget accepts a JSON number (status code) or string (path). Numbers
// that cannot be a status code map to 500. Any other value counts as no
// target.
func parseTarget(raw json.RawMessage) Target {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Target{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Target{Path: s, IsPath: true}
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			if f == math.Trunc(f) && f >= 100 && f < 1000 {
				return Target{Status: int(f)}
			}
			return Target{Status: 500}
		}
	}
	return Target{}
}
