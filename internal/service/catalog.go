package service

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/conthunt/streamcore/internal/model"
)

// Catalog generates deterministic content pages. Every page after the first
// repeats the last item of the previous page, so clients must deduplicate.
type Catalog struct {
	PageSize   int
	TotalPages int
	Epoch      time.Time
}

type pageCursor struct {
	Page int `json:"page"`
}

// Cursor encodes the continuation of page, or JSON null past the last page.
func (c Catalog) Cursor(page int) model.Cursor {
	if page >= c.TotalPages {
		return model.Cursor("null")
	}
	raw, _ := json.Marshal(pageCursor{Page: page})
	return raw
}

// ParseCursor decodes a cursor issued by Cursor.
func (c Catalog) ParseCursor(cur model.Cursor) (int, error) {
	var pc pageCursor
	if err := json.Unmarshal(cur, &pc); err != nil {
		return 0, ErrInvalidCursor
	}
	if pc.Page < 1 || pc.Page >= c.TotalPages {
		return 0, ErrInvalidCursor
	}
	return pc.Page, nil
}

// Page returns the items of one page and the cursor of the next.
func (c Catalog) Page(query string, platform model.Platform, page int) ([]model.ContentItem, model.Cursor) {
	first := page * c.PageSize
	if page > 0 {
		first--
	}
	last := (page + 1) * c.PageSize

	items := make([]model.ContentItem, 0, last-first)
	for i := first; i < last; i++ {
		items = append(items, c.item(query, platform, i))
	}
	return items, c.Cursor(page + 1)
}

func (c Catalog) item(query string, platform model.Platform, n int) model.ContentItem {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", query, platform, n)
	sum := h.Sum64()

	views := int64(1000 + sum%900000)
	published := c.epoch().Add(-time.Duration(sum%(90*24)) * time.Hour)
	id := fmt.Sprintf("%s-%08x-%d", platform, queryKey(query), n)
	creator := fmt.Sprintf("creator%d", sum%97)

	return model.ContentItem{
		ID:       id,
		Platform: platform,
		URL:      fmt.Sprintf("https://%s.example/%s", platform, id),
		Caption:  fmt.Sprintf("%s #%d", query, n+1),
		Metrics: model.ItemMetrics{
			Views:    views,
			Likes:    views / int64(5+sum%20),
			Comments: views / int64(50+sum%200),
			Shares:   views / int64(100+sum%400),
		},
		PublishedAt: &published,
		Creator: model.Creator{
			ID:          fmt.Sprintf("%s-%d", platform, sum%97),
			Username:    creator,
			DisplayName: "Creator " + creator[7:],
			Followers:   int64(sum % 5000000),
			Verified:    sum%7 == 0,
		},
		Assets: model.Assets{
			VideoURL: fmt.Sprintf("https://cdn.%s.example/%s.mp4", platform, id),
			CoverURL: fmt.Sprintf("https://cdn.%s.example/%s.jpg", platform, id),
		},
	}
}

func (c Catalog) epoch() time.Time {
	if c.Epoch.IsZero() {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	}
	return c.Epoch
}

func queryKey(query string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(query))
	return h.Sum32()
}
