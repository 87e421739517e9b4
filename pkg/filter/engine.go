package filter

import (
	"log/slog"
	"os"
	"path"
	"strings"
)

// Verdict is the outcome of evaluating a request path.
type Verdict struct {
	// Path is the URL path to serve, rewritten when a rule targets a path.
	Path string

	// Status is non-zero when the request ends here with that status.
	Status int

	// Rewritten is set when a rule replaced Path.
	Rewritten bool

	// Rule is the rule that fired, nil when none matched.
	Rule *Rule

	// Token is the include token that fired.
	Token string
}

// Terminal reports whether the verdict ends the request with Status.
func (v Verdict) Terminal() bool {
	return v.Status != 0
}

// Action returns the action of the rule that fired, or "" when none did.
func (v Verdict) Action() Action {
	if v.Rule == nil {
		return ""
	}
	return v.Rule.Action
}

// Engine evaluates the rule cascade for request paths.
type Engine struct {
	root   string
	source Source
	docs   []string
	logger *slog.Logger
}

// NewEngine creates an engine serving files below root. docs are the
// default documents tried for directories, in order.
func NewEngine(root string, source Source, docs []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		root:   root,
		source: source,
		docs:   docs,
		logger: logger.With("component", "filter"),
	}
}

// Evaluate runs the cascade for a normalized request path.
//
// Rule files are consulted from the deepest directory of the path up to the
// serving root. Within a file rules keep their order. The first rule with a
// matching token decides; if none matches the request passes unchanged.
func (e *Engine) Evaluate(requestPath string) Verdict {
	isFile := e.isFile(requestPath)

	for _, dir := range Levels(requestPath) {
		for _, rule := range e.source.Rules(dir) {
			if rule.inert {
				continue
			}
			tok := e.match(rule, requestPath, isFile)
			if tok == nil {
				continue
			}

			v := apply(rule, requestPath)
			v.Token = tok.raw
			e.logger.Debug("rule matched",
				"path", requestPath,
				"rule", rule.String(),
				"token", tok.raw,
				"status", v.Status,
				"rewritten", v.Path,
			)
			return v
		}
	}

	return Verdict{Path: requestPath}
}

// match returns the first token of rule matching the request, or nil.
func (e *Engine) match(rule *Rule, requestPath string, isFile bool) *token {
	segments := Relative(requestPath, rule.Root)

	for _, tok := range rule.tokens {
		if tok.match(segments) {
			return tok
		}
		if isFile || tok.fixed {
			continue
		}
		for _, doc := range e.docs {
			if !exists(Join(e.root, requestPath, doc)) {
				continue
			}
			if tok.matchDocument(documentCandidate(segments, doc)) {
				return tok
			}
		}
	}

	return nil
}

func apply(rule *Rule, requestPath string) Verdict {
	v := Verdict{Path: requestPath, Rule: rule}

	switch rule.Action {
	case ActionDeny, ActionForward:
		switch {
		case rule.To.Status != 0:
			v.Status = rule.To.Status
		case rule.To.IsPath:
			v.Path = path.Join("/", rule.Root, rule.To.Path)
			v.Rewritten = true
		default:
			v.Status = rule.Action.DefaultStatus()
		}
	}
	// Pass and unknown actions stop the cascade without changes.

	return v
}

// Levels returns the URL directories whose rule files apply to
// requestPath, deepest first. The serving root is "". A path without a
// trailing slash includes itself, since it may name a directory.
func Levels(requestPath string) []string {
	segments := strings.Split(requestPath, "/")
	if strings.HasSuffix(requestPath, "/") {
		segments = segments[:len(segments)-1]
	}

	levels := make([]string, 0, len(segments))
	for n := len(segments); n > 0; n-- {
		levels = append(levels, strings.Join(segments[:n], "/"))
	}
	return levels
}

// Relative returns the non-empty segments of requestPath below root. The
// root's own path yields a single empty segment.
func Relative(requestPath, root string) []string {
	rest := strings.TrimPrefix(requestPath, root)

	var segments []string
	for _, s := range strings.Split(rest, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return []string{""}
	}
	return segments
}

func documentCandidate(segments []string, doc string) string {
	if len(segments) == 1 && segments[0] == "" {
		return doc
	}
	return strings.Join(segments, "/") + "/" + doc
}

func (e *Engine) isFile(requestPath string) bool {
	info, err := os.Stat(Join(e.root, requestPath))
	return err == nil && info.Mode().IsRegular()
}

func exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
