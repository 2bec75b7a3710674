package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// UserProfile is optional tone context for a caption request.
type UserProfile struct {
	Username     string   `json:"username" validate:"max=64"`
	Bio          string   `json:"bio" validate:"max=500"`
	FollowerIDs  []string `json:"followerIds" validate:"dive,required"`
	FollowingIDs []string `json:"followingIds" validate:"dive,required"`
}

// CaptionRequest is the validated input of the caption pipeline.
// Media is always present once a request has been built through NewCaptionRequest.
type CaptionRequest struct {
	Media            MediaReference
	UserProfile      *UserProfile
	TrendingKeywords []string
}

// CaptionInput is the raw, wire-level shape of a caption request.
type CaptionInput struct {
	Media            string       `json:"media"`
	UserProfile      *UserProfile `json:"userProfile,omitempty"`
	TrendingKeywords []string     `json:"trendingKeywords,omitempty"`
}

// NewCaptionRequest parses raw input into a CaptionRequest.
// Every failure is a *ValidationError.
func NewCaptionRequest(in CaptionInput) (CaptionRequest, error) {
	media, err := ParseMediaReference(in.Media)
	if err != nil {
		return CaptionRequest{}, err
	}

	if in.UserProfile != nil {
		if err := validate.Struct(in.UserProfile); err != nil {
			return CaptionRequest{}, profileError(err)
		}
	}

	var keywords []string
	for _, k := range in.TrendingKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return CaptionRequest{
		Media:            media,
		UserProfile:      in.UserProfile,
		TrendingKeywords: keywords,
	}, nil
}

// Validate re-checks a request built by hand (e.g. by the CLI).
func (r CaptionRequest) Validate() error {
	if r.Media.IsZero() {
		return &ValidationError{Field: "media", Reason: "is required"}
	}
	if err := r.Media.Validate(); err != nil {
		return err
	}
	if r.UserProfile != nil {
		if err := validate.Struct(r.UserProfile); err != nil {
			return profileError(err)
		}
	}
	return nil
}

// CaptionResponse is the only output shape accepted from the model.
type CaptionResponse struct {
	Caption string `json:"caption"`
}

// CaptionPrompt is what gets sent to the model: rendered instruction plus attachment.
type CaptionPrompt struct {
	Instruction string
	Media       MediaReference
}

func profileError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return &ValidationError{
			Field:  "userProfile." + lowerFirst(f.Field()),
			Reason: "failed " + f.Tag() + " check",
		}
	}
	return &ValidationError{Field: "userProfile", Reason: err.Error()}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
