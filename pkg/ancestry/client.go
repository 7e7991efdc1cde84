// Package ancestry resolves the projects an identity can access into their
// hierarchy ancestry chains, caching lookups for the lifetime of one scan.
package ancestry

import (
	"context"
	"errors"

	"github.com/mayritza/orgsentry/pkg/resource"
)

// ErrCredentialRefresh is returned by a HierarchyClient when delegated
// credentials for an identity are expired or invalid. The scanner skips the
// identity and continues.
var ErrCredentialRefresh = errors.New("delegated credential refresh failed")

// ErrNoProjects is returned when an identity has no accessible projects.
// Handled identically to a credential failure: zero chains, scan continues.
var ErrNoProjects = errors.New("identity has no accessible projects")

// Descriptor is a raw hierarchy node descriptor as returned by the
// Cloud Resource Manager getAncestry call, ordered leaf to root.
type Descriptor struct {
	Type string
	ID   string
}

// HierarchyClient is the remote resource-hierarchy lookup capability.
// Implementations handle transport and delegated auth.
type HierarchyClient interface {
	// ListProjects returns the ids of the projects the member can access.
	ListProjects(ctx context.Context, member string) ([]string, error)
	// GetAncestry returns the ancestry of a project, leaf to root.
	GetAncestry(ctx context.Context, projectID string) ([]Descriptor, error)
}

// Chain is an ordered ancestry: index 0 is the leaf project, increasing
// indices move toward the root. Never mutated after construction.
type Chain []resource.Resource

// Leaf returns the project at the bottom of the chain.
func (c Chain) Leaf() resource.Resource {
	return c[0]
}

// Contains reports whether the chain passes through the given resource.
func (c Chain) Contains(r resource.Resource) bool {
	for _, node := range c {
		if node.Equal(r) {
			return true
		}
	}
	return false
}

// Names returns the display names of the chain, leaf to root.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, node := range c {
		names[i] = node.Name()
	}
	return names
}

func chainFromDescriptors(descs []Descriptor) (Chain, error) {
	chain := make(Chain, 0, len(descs))
	for _, d := range descs {
		t, err := resource.TypeFromAPI(d.Type)
		if err != nil {
			return nil, err
		}
		chain = append(chain, resource.New(t, d.ID))
	}
	return chain, nil
}
