package meili

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Index describes one index.
type Index struct {
	UID        string    `json:"uid"`
	PrimaryKey string    `json:"primaryKey,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type indexPage struct {
	Results []Index `json:"results"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
	Total   int     `json:"total"`
}

const indexPageSize = 100

// ListIndexes returns every index sorted by UID.
func (c *Client) ListIndexes(ctx context.Context) ([]Index, error) {
	var all []Index
	for offset := 0; ; {
		var page indexPage
		path := "/indexes?offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(indexPageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Total {
			break
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].UID < all[j].UID })
	return all, nil
}

// GetIndex returns one index. A missing index matches errors.ErrIndexNotFound.
func (c *Client) GetIndex(ctx context.Context, uid string) (Index, error) {
	var idx Index
	if err := c.do(ctx, http.MethodGet, indexPath(uid), nil, &idx); err != nil {
		return Index{}, indexNotFound(err, uid)
	}
	return idx, nil
}
