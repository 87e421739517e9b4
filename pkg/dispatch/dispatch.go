// Package dispatch decides how a filtered request is answered.
package dispatch

import (
	"net/http"
	"os"
	"path"
	"strings"

	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/httpwire"
)

// Kind is the kind of answer a request gets.
type Kind int

const (
	// KindStatus ends the request with a bare status response.
	KindStatus Kind = iota
	// KindRedirect answers 301 with a Location header.
	KindRedirect
	// KindStatic streams a file.
	KindStatic
	// KindScript runs a file in a sandbox worker.
	KindScript
)

// String returns the kind name used in logs and the journal.
func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return "redirect"
	case KindStatic:
		return "static"
	case KindScript:
		return "script"
	default:
		return "status"
	}
}

// Target is the resolved answer.
type Target struct {
	Kind Kind

	// Status is the response status for KindStatus and KindRedirect.
	Status int

	// Location is set for KindRedirect.
	Location string

	// File is the filesystem path for KindStatic and KindScript.
	File string

	// Size is the file size for KindStatic.
	Size int64
}

// Resolver maps verdicts to targets below a serving root.
type Resolver struct {
	root      string
	docs      []string
	scriptExt string
}

// NewResolver creates a resolver. docs are the default documents tried for
// directories, scriptExt the extension that selects the sandbox.
func NewResolver(root string, docs []string, scriptExt string) *Resolver {
	return &Resolver{root: root, docs: docs, scriptExt: scriptExt}
}

// Resolve picks the target for a request after rule evaluation.
//
//  1. A terminal verdict answers with its status
//  2. An existing directory requested without a trailing slash is
//     redirected to the slashed form
//  3. A missing path is 404
//  4. A directory serves its first existing default document, or 404
//  5. Files with the script extension run in the sandbox, the rest are
//     served as they are
func (r *Resolver) Resolve(v filter.Verdict, req *httpwire.Request) Target {
	if v.Terminal() {
		return Target{Kind: KindStatus, Status: v.Status}
	}

	file := filter.Join(r.root, v.Path)
	info, err := os.Stat(file)
	if err != nil {
		return Target{Kind: KindStatus, Status: http.StatusNotFound}
	}

	if !info.Mode().IsRegular() {
		if !req.Slashed {
			return Target{Kind: KindRedirect, Status: http.StatusMovedPermanently, Location: req.RedirectLocation()}
		}
		if !info.IsDir() {
			return Target{Kind: KindStatus, Status: http.StatusNotFound}
		}

		file, info = r.defaultDocument(v.Path)
		if info == nil {
			return Target{Kind: KindStatus, Status: http.StatusNotFound}
		}
	}

	if r.scriptExt != "" && strings.HasSuffix(file, r.scriptExt) {
		return Target{Kind: KindScript, File: file}
	}
	return Target{Kind: KindStatic, File: file, Size: info.Size()}
}

func (r *Resolver) defaultDocument(dir string) (string, os.FileInfo) {
	for _, doc := range r.docs {
		file := filter.Join(r.root, path.Join(dir, doc))
		info, err := os.Stat(file)
		if err == nil && info.Mode().IsRegular() {
			return file, info
		}
	}
	return "", nil
}
