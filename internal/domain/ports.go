package domain

import "context"

// CaptionModel is the generative model behind the caption pipeline.
// It returns the raw structured output; shape checks belong to the caller.
type CaptionModel interface {
	GenerateCaption(ctx context.Context, prompt CaptionPrompt) (string, error)
}

// IdentityProvider delivers the current identity and every later change
// (sign-in, sign-out, token refresh). The channel closes when ctx is done.
type IdentityProvider interface {
	Subscribe(ctx context.Context) <-chan Identity
}

// PostStore is the remote document store for content.
// List operations return newest first.
type PostStore interface {
	CreatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id PostID) (*Post, error)
	ListPostsByAuthors(ctx context.Context, authors []UserID, limit int) ([]*Post, error)
}

// UserStore persists public profiles.
type UserStore interface {
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
}

// FollowStore persists follow relationships.
type FollowStore interface {
	SetFollow(ctx context.Context, follower, target UserID, follow bool) error
	ListFollowing(ctx context.Context, follower UserID) ([]UserID, error)
}
