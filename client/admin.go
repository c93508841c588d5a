package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

// AdminClient talks to the tenant admin endpoints
type AdminClient struct {
	*Client
	baseURL string
}

// NewAdminClient creates an admin client rooted at baseURL, sharing c's transport
func NewAdminClient(c *Client, baseURL string) *AdminClient {
	return &AdminClient{
		Client:  c,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type siteEntry struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	IsPersonalSite bool   `json:"isPersonalSite"`
}

// ListEntities returns every site the tenant manages that passes filter.
// A nil filter keeps all sites. Entries without a URL are dropped.
func (a *AdminClient) ListEntities(ctx context.Context, filter func(types.Entity) bool) ([]types.Entity, error) {
	var sites []siteEntry
	if _, err := a.do(ctx, "list_sites", http.MethodGet, a.baseURL+"/_api/tenant/sites", nil, &sites); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}

	entities := make([]types.Entity, 0, len(sites))
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		e := types.Entity{URL: s.URL, Title: s.Title, Personal: s.IsPersonalSite}
		if filter == nil || filter(e) {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// GetTenantSettings reads the tenant version policy
func (a *AdminClient) GetTenantSettings(ctx context.Context) (types.TenantSettings, error) {
	var settings types.TenantSettings
	if _, err := a.do(ctx, "get_tenant_settings", http.MethodGet, a.baseURL+"/_api/tenant/settings", nil, &settings); err != nil {
		return types.TenantSettings{}, err
	}
	return settings, nil
}

// UpdateTenantSettings writes the tenant version policy
func (a *AdminClient) UpdateTenantSettings(ctx context.Context, settings types.TenantSettings) error {
	_, err := a.do(ctx, "update_tenant_settings", http.MethodPatch, a.baseURL+"/_api/tenant/settings", settings, nil)
	return err
}

// ExcludePersonal is a ListEntities filter that drops personal sites
func ExcludePersonal(e types.Entity) bool {
	return !e.Personal
}

// ReadEntities reads one site URL per line. Blank lines and lines starting
// with # are ignored, and repeated URLs are kept once.
func ReadEntities(r io.Reader) ([]types.Entity, error) {
	var entities []types.Entity
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		u, err := url.Parse(text)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("line %d: %q is not an absolute site URL", line, text)
		}
		if seen[text] {
			continue
		}
		seen[text] = true
		entities = append(entities, types.Entity{URL: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sites: %w", err)
	}
	return entities, nil
}
