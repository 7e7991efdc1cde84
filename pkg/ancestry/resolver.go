package ancestry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Resolver turns one identity into the list of ancestry chains for the
// projects it can access. The cache is owned by the caller (the scanner)
// and shared across every identity resolved during the run.
type Resolver struct {
	client HierarchyClient
	cache  *Cache
	logger *slog.Logger
}

// NewResolver creates a resolver over the given hierarchy client and
// run-scoped cache.
func NewResolver(client HierarchyClient, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, cache: cache, logger: logger}
}

// ResolveMember lists the member's accessible projects and resolves each to
// its ancestry chain, consulting the shared cache first.
//
// Credential failures and members without projects are recoverable: the
// member contributes zero chains and a nil error, and the caller moves on.
// Any other failure aborts resolution for this member and propagates.
func (r *Resolver) ResolveMember(ctx context.Context, member string) ([]Chain, error) {
	projectIDs, err := r.client.ListProjects(ctx, member)
	if err != nil {
		if errors.Is(err, ErrCredentialRefresh) {
			r.logger.Debug("Could not retrieve projects for member", "member", member, "error", err)
			return nil, nil
		}
		if errors.Is(err, ErrNoProjects) {
			r.logger.Debug("Member has no projects", "member", member)
			return nil, nil
		}
		return nil, fmt.Errorf("listing projects for %s: %w", member, err)
	}
	if len(projectIDs) == 0 {
		r.logger.Debug("Member has no projects", "member", member)
		return nil, nil
	}

	chains := make([]Chain, 0, len(projectIDs))
	for _, projectID := range projectIDs {
		chain, err := r.cache.GetOrFetch(ctx, projectID, r.fetch)
		if err != nil {
			return nil, fmt.Errorf("resolving ancestry of %s: %w", projectID, err)
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func (r *Resolver) fetch(ctx context.Context, projectID string) (Chain, error) {
	descs, err := r.client.GetAncestry(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return chainFromDescriptors(descs)
}
