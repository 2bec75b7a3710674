package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"

	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

// TokenVerifier is the part of the Firebase auth client we use.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Firebase reports identities backed by verified Firebase ID tokens.
type Firebase struct {
	*Static
	verifier TokenVerifier
}

// NewFirebase initializes the Firebase app for projectID using application
// default credentials.
func NewFirebase(ctx context.Context, projectID string) (*Firebase, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return NewFirebaseWithVerifier(client), nil
}

func NewFirebaseWithVerifier(v TokenVerifier) *Firebase {
	return &Firebase{
		Static:   NewStaticSignedIn(""),
		verifier: v,
	}
}

// SignInWithToken verifies idToken and signs in its subject.
func (f *Firebase) SignInWithToken(ctx context.Context, idToken string) (domain.UserID, error) {
	if idToken == "" {
		return "", &domain.ValidationError{Field: "id_token", Reason: "is required"}
	}

	token, err := f.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("id token rejected", "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	user := domain.UserID(token.UID)
	f.SignIn(user)
	return user, nil
}
