package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nst/gatekeeper/internal/model"
)

// DirectoryClient talks to the external role directory over HTTP. Role
// names resolve to stable IDs rarely, so resolutions sit in a small
// expirable cache; membership reads are always live.
type DirectoryClient struct {
	httpClient *http.Client
	baseURL    string
	roleCache  *expirable.LRU[string, model.Role]
}

func NewDirectoryClient(baseURL string, timeout time.Duration, cacheSize int, cacheTTL time.Duration) *DirectoryClient {
	return &DirectoryClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		roleCache:  expirable.NewLRU[string, model.Role](cacheSize, nil, cacheTTL),
	}
}

func (c *DirectoryClient) ResolveRole(ctx context.Context, name string) (model.Role, bool, error) {
	if role, ok := c.roleCache.Get(name); ok {
		return role, true, nil
	}

	endpoint := fmt.Sprintf("%s/roles?name=%s", c.baseURL, url.QueryEscape(name))
	var role model.Role
	found, err := c.getJSON(ctx, endpoint, &role)
	if err != nil || !found {
		return model.Role{}, false, err
	}
	c.roleCache.Add(name, role)
	return role, true, nil
}

func (c *DirectoryClient) MemberRoles(ctx context.Context, userID string) ([]model.Role, error) {
	endpoint := fmt.Sprintf("%s/members/%s/roles", c.baseURL, url.PathEscape(userID))
	var roles []model.Role
	found, err := c.getJSON(ctx, endpoint, &roles)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return roles, nil
}

func (c *DirectoryClient) Grant(ctx context.Context, userID, roleID string) error {
	endpoint := fmt.Sprintf("%s/members/%s/roles/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(roleID))
	return c.send(ctx, http.MethodPut, endpoint)
}

func (c *DirectoryClient) Revoke(ctx context.Context, userID, roleID string) error {
	endpoint := fmt.Sprintf("%s/members/%s/roles/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(roleID))
	return c.send(ctx, http.MethodDelete, endpoint)
}

func (c *DirectoryClient) getJSON(ctx context.Context, endpoint string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *DirectoryClient) send(ctx context.Context, method, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
	return nil
}
