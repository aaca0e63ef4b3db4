// Package artifact reports the files the agents generate under the
// artifacts root: a one-shot listing after a run and a live watch while the
// pipeline executes.
package artifact

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fwojciec/crew"
)

// Interface compliance check.
var _ crew.ArtifactLister = (*Lister)(nil)

// DefaultIgnore lists patterns of files that are never reported.
var DefaultIgnore = []string{
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.pytest_cache/**",
	"**/.git/**",
	"**/*.tmp",
}

// Lister lists artifact files under a root directory.
type Lister struct {
	root    string
	pattern string
	ignore  []string
}

// Option configures a Lister.
type Option func(*Lister)

// WithPattern restricts listing to files matching a doublestar pattern
// relative to the root. Default "**".
func WithPattern(p string) Option {
	return func(l *Lister) { l.pattern = p }
}

// WithIgnore replaces the ignore patterns.
func WithIgnore(patterns ...string) Option {
	return func(l *Lister) { l.ignore = patterns }
}

// New creates a Lister for root.
func New(root string, opts ...Option) *Lister {
	l := &Lister{root: root, pattern: "**", ignore: DefaultIgnore}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Root returns the artifacts root.
func (l *Lister) Root() string {
	return l.root
}

// ListArtifacts returns the slash-separated paths of all files under the
// root, relative to it and sorted. A missing root yields no artifacts.
func (l *Lister) ListArtifacts(ctx context.Context) ([]string, error) {
	if !doublestar.ValidatePattern(l.pattern) {
		return nil, &os.PathError{Op: "glob", Path: l.pattern, Err: doublestar.ErrBadPattern}
	}
	if _, err := os.Stat(l.root); errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	var files []string
	err := doublestar.GlobWalk(os.DirFS(l.root), l.pattern, func(path string, d iofs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || l.ignored(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

func (l *Lister) ignored(path string) bool {
	for _, p := range l.ignore {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
