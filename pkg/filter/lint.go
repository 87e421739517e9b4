package filter

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"mercator-hq/callisto/pkg/httpwire"
)

// Severity grades a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single lint finding.
type Issue struct {
	File     string
	Rule     int // -1 for file level issues
	Severity Severity
	Message  string
}

// String formats the issue the way compilers do.
func (i Issue) String() string {
	if i.Rule < 0 {
		return fmt.Sprintf("%s: %s: %s", i.File, i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: rule %d: %s: %s", i.File, i.Rule, i.Severity, i.Message)
}

// LintTree checks every rule file below root and returns the findings.
// The walk error is returned only when root itself cannot be read.
func LintTree(root, fileName string) ([]Issue, int, error) {
	source := NewDiskSource(root, fileName, nil)
	var issues []Issue
	files := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			issues = append(issues, Issue{File: p, Rule: -1, Severity: SeverityError, Message: err.Error()})
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() || d.Name() != fileName {
			return nil
		}

		files++
		var dir string
		if rel, err := filepath.Rel(root, filepath.Dir(p)); err == nil && rel != "." {
			dir = "/" + filepath.ToSlash(rel)
		}

		rules, err := source.Load(dir)
		if err != nil {
			issues = append(issues, Issue{File: p, Rule: -1, Severity: SeverityError, Message: err.Error()})
			return nil
		}
		issues = append(issues, LintRules(p, rules)...)
		return nil
	})

	return issues, files, err
}

// LintRules checks parsed rules for mistakes that make them silently
// ineffective.
func LintRules(file string, rules []*Rule) []Issue {
	var issues []Issue
	add := func(r *Rule, sev Severity, format string, args ...any) {
		issues = append(issues, Issue{File: file, Rule: r.Index, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	for _, r := range rules {
		switch {
		case r.Action == "":
			add(r, SeverityError, "missing action, rule is ignored")
		case !r.Action.Known():
			add(r, SeverityWarning, "unknown action %q stops the cascade without effect", r.Action)
		}

		if r.Includes == nil {
			add(r, SeverityError, "missing includes, rule is ignored")
		} else if len(r.Includes) == 0 {
			add(r, SeverityWarning, "empty includes, rule never matches")
		}
		for _, inc := range r.Includes {
			if inc == "" {
				add(r, SeverityWarning, "empty include matches every path")
			}
		}

		if r.Action == ActionPass && !r.To.IsZero() {
			add(r, SeverityWarning, "\"to\" has no effect on a pass rule")
		}
		if r.To.Status != 0 {
			if code, _ := httpwire.StatusText(r.To.Status); code != r.To.Status {
				add(r, SeverityWarning, "status %d is not supported and is sent as 500", r.To.Status)
			}
		}
	}

	return issues
}
