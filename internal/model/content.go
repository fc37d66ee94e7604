// Package model defines the data structures shared by the streaming core.
package model

import (
	"strings"
	"time"
)

// Platform identifies an upstream content platform.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformPinterest Platform = "pinterest"
)

// Platforms lists every known platform in display order.
var Platforms = []Platform{PlatformTikTok, PlatformInstagram, PlatformYouTube, PlatformPinterest}

// ParsePlatform normalizes a platform name. It returns false for unknown names.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// ItemMetrics holds the engagement counters of a content item.
type ItemMetrics struct {
	Views    int64 `json:"views" yaml:"views"`
	Likes    int64 `json:"likes" yaml:"likes"`
	Comments int64 `json:"comments" yaml:"comments"`
	Shares   int64 `json:"shares" yaml:"shares"`
}

// EngagementRate returns (likes+comments+shares)/views, or 0 without views.
func (m ItemMetrics) EngagementRate() float64 {
	if m.Views <= 0 {
		return 0
	}
	return float64(m.Likes+m.Comments+m.Shares) / float64(m.Views)
}

// Creator describes the account that published a content item.
type Creator struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Followers   int64  `json:"followers,omitempty" yaml:"followers,omitempty"`
	Verified    bool   `json:"verified,omitempty" yaml:"verified,omitempty"`
}

// Assets holds the media URLs of a content item.
type Assets struct {
	VideoURL     string `json:"video_url,omitempty" yaml:"video_url,omitempty"`
	CoverURL     string `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty" yaml:"thumbnail_url,omitempty"`
}

// ContentItem is one flattened media item. ID is stable across platforms and
// unique within an aggregated result set.
type ContentItem struct {
	ID          string      `json:"id" yaml:"id"`
	Platform    Platform    `json:"platform" yaml:"platform"`
	URL         string      `json:"url,omitempty" yaml:"url,omitempty"`
	Caption     string      `json:"caption,omitempty" yaml:"caption,omitempty"`
	Metrics     ItemMetrics `json:"metrics" yaml:"metrics"`
	PublishedAt *time.Time  `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	Creator     Creator     `json:"creator" yaml:"creator"`
	Assets      Assets      `json:"assets" yaml:"assets"`
}
