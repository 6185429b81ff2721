// Package gallery owns the in-memory face gallery and its persistence:
// saved faces in Redis with a content-addressable blob store for durable
// profile backup. All gallery writes are atomic replace-the-slice
// operations; readers get a stable snapshot.
package gallery

import (
	"fmt"
	"sync"

	"github.com/biowallet/backend/internal/core"
)

// Gallery holds the active set of saved faces matched against live frames.
type Gallery struct {
	mu    sync.RWMutex
	faces []core.SavedFace
}

// New creates an empty gallery.
func New() *Gallery {
	return &Gallery{}
}

// Snapshot returns a copy of the current face set.
func (g *Gallery) Snapshot() []core.SavedFace {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]core.SavedFace, len(g.faces))
	copy(out, g.faces)
	return out
}

// Replace swaps the whole gallery in one write.
func (g *Gallery) Replace(faces []core.SavedFace) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faces = faces
}

// Add appends newly registered faces. Re-registration under an existing
// name replaces that name's entries rather than accumulating stale
// descriptors.
func (g *Gallery) Add(faces ...core.SavedFace) error {
	for _, f := range faces {
		if f.Label.Name == "" {
			return fmt.Errorf("saved face missing profile name")
		}
		if len(f.Descriptor) != core.DescriptorLength {
			return fmt.Errorf("descriptor for %s has %d values, want %d",
				f.Label.Name, len(f.Descriptor), core.DescriptorLength)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	replaced := make(map[string]bool, len(faces))
	for _, f := range faces {
		replaced[f.Label.Name] = true
	}

	next := make([]core.SavedFace, 0, len(g.faces)+len(faces))
	for _, f := range g.faces {
		if !replaced[f.Label.Name] {
			next = append(next, f)
		}
	}
	next = append(next, faces...)
	g.faces = next
	return nil
}

// Len returns the number of faces currently in the gallery.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.faces)
}

// Merge combines locally persisted faces with the bundled reference set,
// deduplicating by profile name. Local faces take precedence. The merge
// is idempotent: merging the same inputs twice yields the same result as
// merging once.
func Merge(local, reference []core.SavedFace) []core.SavedFace {
	seen := make(map[string]bool, len(local)+len(reference))
	combined := make([]core.SavedFace, 0, len(local)+len(reference))

	for _, face := range local {
		if !seen[face.Label.Name] {
			seen[face.Label.Name] = true
			combined = append(combined, face)
		}
	}
	for _, face := range reference {
		if !seen[face.Label.Name] {
			seen[face.Label.Name] = true
			combined = append(combined, face)
		}
	}

	return combined
}
