package ancestry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeClient serves canned project lists and ancestries, counting remote
// ancestry lookups.
type fakeClient struct {
	projects      map[string][]string
	ancestries    map[string][]Descriptor
	listErr       map[string]error
	ancestryCalls atomic.Int64
}

func (f *fakeClient) ListProjects(ctx context.Context, member string) ([]string, error) {
	if err := f.listErr[member]; err != nil {
		return nil, err
	}
	return f.projects[member], nil
}

func (f *fakeClient) GetAncestry(ctx context.Context, projectID string) ([]Descriptor, error) {
	f.ancestryCalls.Add(1)
	descs, ok := f.ancestries[projectID]
	if !ok {
		return nil, fmt.Errorf("unknown project %s", projectID)
	}
	return descs, nil
}

func testClient() *fakeClient {
	return &fakeClient{
		projects: map[string][]string{
			"user1@example.com": {"proj-a", "proj-shared"},
			"user2@example.com": {"proj-shared"},
		},
		ancestries: map[string][]Descriptor{
			"proj-a": {
				{Type: "project", ID: "proj-a"},
				{Type: "organization", ID: "567890"},
			},
			"proj-shared": {
				{Type: "project", ID: "proj-shared"},
				{Type: "folder", ID: "24680"},
				{Type: "organization", ID: "567890"},
			},
		},
		listErr: map[string]error{},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveMember(t *testing.T) {
	client := testClient()
	r := NewResolver(client, NewCache(), quietLogger())

	chains, err := r.ResolveMember(context.Background(), "user1@example.com")
	if err != nil {
		t.Fatalf("ResolveMember failed: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("got %d chains, want 2", len(chains))
	}
	if chains[0].Leaf().ID != "proj-a" {
		t.Errorf("leaf = %q, want proj-a", chains[0].Leaf().ID)
	}
	if len(chains[1]) != 3 {
		t.Errorf("proj-shared chain has %d nodes, want 3", len(chains[1]))
	}
}

func TestCacheInvariant(t *testing.T) {
	// Two identities sharing a project must trigger exactly one remote
	// ancestry lookup for it.
	client := testClient()
	cache := NewCache()
	r := NewResolver(client, cache, quietLogger())
	ctx := context.Background()

	chains1, err := r.ResolveMember(ctx, "user1@example.com")
	if err != nil {
		t.Fatal(err)
	}
	chains2, err := r.ResolveMember(ctx, "user2@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if calls := client.ancestryCalls.Load(); calls != 2 {
		t.Errorf("GetAncestry called %d times, want 2 (proj-a and proj-shared once each)", calls)
	}
	if !reflect.DeepEqual(chains1[1], chains2[0]) {
		t.Error("shared project chains differ between identities")
	}
}

func TestCacheInvariantConcurrent(t *testing.T) {
	client := testClient()
	cache := NewCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewResolver(client, cache, quietLogger())
			if _, err := r.ResolveMember(ctx, "user2@example.com"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if calls := client.ancestryCalls.Load(); calls != 1 {
		t.Errorf("GetAncestry called %d times under concurrency, want 1", calls)
	}
}

func TestCacheRetryAfterFailure(t *testing.T) {
	cache := NewCache()
	boom := errors.New("backend unavailable")
	attempts := 0

	_, err := cache.GetOrFetch(context.Background(), "p", func(ctx context.Context, id string) (Chain, error) {
		attempts++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	// A failed fetch is not cached: the next caller fetches again.
	_, err = cache.GetOrFetch(context.Background(), "p", func(ctx context.Context, id string) (Chain, error) {
		attempts++
		return Chain{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestFailureIsolationCredential(t *testing.T) {
	client := testClient()
	client.listErr["user1@example.com"] = fmt.Errorf("token expired: %w", ErrCredentialRefresh)
	r := NewResolver(client, NewCache(), quietLogger())
	ctx := context.Background()

	chains, err := r.ResolveMember(ctx, "user1@example.com")
	if err != nil {
		t.Fatalf("credential failure must be recovered, got %v", err)
	}
	if len(chains) != 0 {
		t.Errorf("failed member contributed %d chains, want 0", len(chains))
	}

	// Other members keep resolving.
	chains, err = r.ResolveMember(ctx, "user2@example.com")
	if err != nil || len(chains) != 1 {
		t.Errorf("unaffected member: chains=%d err=%v", len(chains), err)
	}
}

func TestFailureIsolationNoProjects(t *testing.T) {
	client := testClient()
	client.listErr["user1@example.com"] = ErrNoProjects
	r := NewResolver(client, NewCache(), quietLogger())

	chains, err := r.ResolveMember(context.Background(), "user1@example.com")
	if err != nil || len(chains) != 0 {
		t.Errorf("no-projects member: chains=%d err=%v", len(chains), err)
	}
}

func TestUnexpectedErrorPropagates(t *testing.T) {
	client := testClient()
	client.listErr["user1@example.com"] = errors.New("api exploded")
	r := NewResolver(client, NewCache(), quietLogger())

	if _, err := r.ResolveMember(context.Background(), "user1@example.com"); err == nil {
		t.Error("unexpected failures must propagate")
	}
}

func TestChainContains(t *testing.T) {
	chain, err := chainFromDescriptors([]Descriptor{
		{Type: "project", ID: "p"},
		{Type: "folder", ID: "f"},
		{Type: "organization", ID: "o"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !chain.Contains(chain[1]) {
		t.Error("Contains missed a chain element")
	}
	if chain.Contains(chain[0]) != true || len(chain.Names()) != 3 {
		t.Error("chain accessors misbehaved")
	}
}

func TestChainFromDescriptorsBadType(t *testing.T) {
	if _, err := chainFromDescriptors([]Descriptor{{Type: "billing", ID: "x"}}); err == nil {
		t.Error("expected error for unknown descriptor type")
	}
}
