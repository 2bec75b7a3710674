package domain

import "time"

type UserID string
type PostID string

type Timestamp = time.Time

// PostKind is the surface a post is published to.
type PostKind string

const (
	KindPost  PostKind = "post"
	KindReel  PostKind = "reel"
	KindStory PostKind = "story" // expires after the configured story TTL
)

// ParsePostKind maps loose client input to a PostKind. Unknown values fall back to KindPost.
func ParsePostKind(s string) PostKind {
	switch s {
	case "reel", "video":
		return KindReel
	case "story", "stories":
		return KindStory
	default:
		return KindPost
	}
}

// User is the public profile of an account.
type User struct {
	ID        UserID
	Username  string
	Bio       string
	AvatarURL string
	CreatedAt Timestamp
}

// Post is a published content item (photo, reel or story).
type Post struct {
	ID        PostID
	AuthorID  UserID
	Kind      PostKind
	Caption   string
	MediaURL  string
	MediaType string // declared MIME type, e.g. "image/jpeg"
	CreatedAt Timestamp
}

// Expired reports whether the post should no longer be shown.
// Only stories expire.
func (p *Post) Expired(now time.Time, storyTTL time.Duration) bool {
	if p.Kind != KindStory || storyTTL <= 0 {
		return false
	}
	return now.Sub(p.CreatedAt) > storyTTL
}
