package crew

import "context"

// ArtifactLister lists the files tool processes have written to the shared
// artifacts root, as slash-separated paths relative to that root.
type ArtifactLister interface {
	ListArtifacts(ctx context.Context) ([]string, error)
}
