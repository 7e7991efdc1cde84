// Package crm is a thin Cloud Resource Manager v1 client used for project
// enumeration and ancestry lookups under delegated credentials.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mayritza/orgsentry/pkg/ancestry"
)

const defaultBaseURL = "https://cloudresourcemanager.googleapis.com/v1"

// TokenSource returns a bearer token for API calls on behalf of a member.
// Delegated credential acquisition (domain-wide delegation) lives behind
// this callback.
type TokenSource func(ctx context.Context, member string) (string, error)

// Client implements ancestry.HierarchyClient over the CRM REST API.
// Requests are rate limited client-side to stay under the API quota.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	limiter    *rate.Limiter
}

// Option overrides a client default.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests, emulators).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRateLimit caps outgoing API calls per second. The burst is clamped
// to at least 1 so fractional rates still admit single calls.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a CRM client with a default 10 req/s limit.
func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type projectList struct {
	Projects []struct {
		ProjectID      string `json:"projectId"`
		LifecycleState string `json:"lifecycleState"`
	} `json:"projects"`
	NextPageToken string `json:"nextPageToken"`
}

type ancestryResponse struct {
	Ancestor []struct {
		ResourceID struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"resourceId"`
	} `json:"ancestor"`
}

// ListProjects returns the active project ids visible to the member.
func (c *Client) ListProjects(ctx context.Context, member string) ([]string, error) {
	token, err := c.tokens(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ancestry.ErrCredentialRefresh, err)
	}

	var ids []string
	pageToken := ""
	for {
		endpoint := c.baseURL + "/projects"
		if pageToken != "" {
			endpoint += "?pageToken=" + url.QueryEscape(pageToken)
		}
		var page projectList
		if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Projects {
			if p.LifecycleState == "ACTIVE" {
				ids = append(ids, p.ProjectID)
			}
		}
		if page.NextPageToken == "" {
			return ids, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetAncestry returns the ancestry of a project, leaf to root. The caller
// supplies no member: ancestry is fetched with the scanner's own token,
// requested via an empty member string.
func (c *Client) GetAncestry(ctx context.Context, projectID string) ([]ancestry.Descriptor, error) {
	token, err := c.tokens(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ancestry.ErrCredentialRefresh, err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s:getAncestry", c.baseURL, url.PathEscape(projectID))
	var resp ancestryResponse
	if err := c.do(ctx, http.MethodPost, endpoint, token, bytes.NewReader([]byte("{}")), &resp); err != nil {
		return nil, err
	}

	descs := make([]ancestry.Descriptor, 0, len(resp.Ancestor))
	for _, a := range resp.Ancestor {
		descs = append(descs, ancestry.Descriptor{Type: a.ResourceID.Type, ID: a.ResourceID.ID})
	}
	return descs, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned 401", ancestry.ErrCredentialRefresh, endpoint)
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, payload)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
