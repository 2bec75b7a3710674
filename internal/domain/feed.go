package domain

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// LocalFeedItem wraps a post created during this session that the remote
// store may not return yet. It is never mutated after insertion.
type LocalFeedItem struct {
	Post      Post
	CreatedAt Timestamp
}

// FeedEntry is one rendered row of the feed.
type FeedEntry struct {
	Post  Post
	Local bool
}

// NewPostInput is the wire shape of a publish request.
type NewPostInput struct {
	Kind      string `json:"kind" validate:"omitempty,oneof=post reel video story stories"`
	Caption   string `json:"caption" validate:"max=2200"`
	MediaURL  string `json:"media_url" validate:"required,url"`
	MediaType string `json:"media_type" validate:"required"`
}

// Validate checks the publish input shape.
func (in NewPostInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return &ValidationError{Field: lowerFirst(f.Field()), Reason: "failed " + f.Tag() + " check"}
		}
		return &ValidationError{Reason: err.Error()}
	}
	if _, ok := supportedMedia[in.MediaType]; !ok {
		return &ValidationError{Field: "media_type", Reason: "unsupported media type " + in.MediaType}
	}
	return nil
}
