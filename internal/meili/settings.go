package meili

import (
	"context"
	"net/http"
)

// GetSettings returns every setting of the index. Numbers are json.Number.
func (c *Client) GetSettings(ctx context.Context, index string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, indexPath(index, "settings"), nil, &out); err != nil {
		return nil, indexNotFound(err, index)
	}
	return out, nil
}

// UpdateSettings submits a partial settings object. Only the keys present
// are changed, once the returned task has been processed.
func (c *Client) UpdateSettings(ctx context.Context, index string, settings map[string]any) (TaskInfo, error) {
	var info TaskInfo
	err := c.do(ctx, http.MethodPatch, indexPath(index, "settings"), settings, &info)
	return info, err
}

// ResetSettings restores every setting of the index to its default.
func (c *Client) ResetSettings(ctx context.Context, index string) (TaskInfo, error) {
	var info TaskInfo
	err := c.do(ctx, http.MethodDelete, indexPath(index, "settings"), nil, &info)
	return info, err
}
