package aggregate

import (
	"sort"
	"time"

	"github.com/conthunt/streamcore/internal/model"
)

// SortKey selects the metric a view is ordered by.
type SortKey string

const (
	SortNone       SortKey = ""
	SortViews      SortKey = "views"
	SortLikes      SortKey = "likes"
	SortComments   SortKey = "comments"
	SortShares     SortKey = "shares"
	SortEngagement SortKey = "engagement"
	SortPublished  SortKey = "published"
)

// Sort orders a view. Ties keep ingestion order.
type Sort struct {
	Key       SortKey
	Ascending bool
}

// Filter narrows a view. Zero values disable a criterion.
type Filter struct {
	Platforms      []model.Platform
	MinViews       int64
	MinLikes       int64
	PublishedAfter time.Time
}

// Apply filters then sorts a copy of items. It never mutates its input.
func Apply(items []model.ContentItem, f Filter, s Sort) []model.ContentItem {
	out := make([]model.ContentItem, 0, len(items))
	for _, item := range items {
		if f.match(item) {
			out = append(out, item)
		}
	}

	if s.Key == SortNone {
		return out
	}

	less := lessFunc(s.Key)
	sort.SliceStable(out, func(i, j int) bool {
		if s.Ascending {
			return less(out[i], out[j])
		}
		return less(out[j], out[i])
	})
	return out
}

func (f Filter) match(item model.ContentItem) bool {
	if len(f.Platforms) > 0 {
		found := false
		for _, p := range f.Platforms {
			if p == item.Platform {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinViews > 0 && item.Metrics.Views < f.MinViews {
		return false
	}
	if f.MinLikes > 0 && item.Metrics.Likes < f.MinLikes {
		return false
	}
	if !f.PublishedAfter.IsZero() {
		if item.PublishedAt == nil || !item.PublishedAt.After(f.PublishedAfter) {
			return false
		}
	}
	return true
}

func lessFunc(key SortKey) func(a, b model.ContentItem) bool {
	switch key {
	case SortLikes:
		return func(a, b model.ContentItem) bool { return a.Metrics.Likes < b.Metrics.Likes }
	case SortComments:
		return func(a, b model.ContentItem) bool { return a.Metrics.Comments < b.Metrics.Comments }
	case SortShares:
		return func(a, b model.ContentItem) bool { return a.Metrics.Shares < b.Metrics.Shares }
	case SortEngagement:
		return func(a, b model.ContentItem) bool {
			return a.Metrics.EngagementRate() < b.Metrics.EngagementRate()
		}
	case SortPublished:
		// Items without a date sort as oldest.
		return func(a, b model.ContentItem) bool {
			if a.PublishedAt == nil {
				return b.PublishedAt != nil
			}
			if b.PublishedAt == nil {
				return false
			}
			return a.PublishedAt.Before(*b.PublishedAt)
		}
	default:
		return func(a, b model.ContentItem) bool { return a.Metrics.Views < b.Metrics.Views }
	}
}

// ParseSortKey maps a user-supplied name to a SortKey.
func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(s); k {
	case SortNone, SortViews, SortLikes, SortComments, SortShares, SortEngagement, SortPublished:
		return k, true
	default:
		return SortNone, false
	}
}
