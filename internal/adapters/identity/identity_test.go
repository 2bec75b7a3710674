package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/instaflow/internal/domain"
)

func recv(t *testing.T, ch <-chan domain.Identity) domain.Identity {
	t.Helper()
	select {
	case id, ok := <-ch:
		require.True(t, ok, "channel closed")
		return id
	case <-time.After(time.Second):
		t.Fatal("no identity received")
	}
	return domain.Identity{}
}

func TestStaticStartsUnknown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStatic()
	ch := s.Subscribe(ctx)

	select {
	case id := <-ch:
		t.Fatalf("unexpected identity %+v", id)
	case <-time.After(20 * time.Millisecond):
	}

	s.SignIn("alice")
	assert.Equal(t, domain.UserID("alice"), recv(t, ch).UserID)

	s.SignOut()
	assert.False(t, recv(t, ch).Authenticated())
}

func TestStaticReplaysCurrent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := NewStaticSignedIn("alice")
	ch := s.Subscribe(ctx)
	assert.Equal(t, domain.UserID("alice"), recv(t, ch).UserID)

	cancel()
	for range ch {
	}
}

type fakeVerifier struct {
	uid string
	err error
}

func (f fakeVerifier) VerifyIDToken(_ context.Context, _ string) (*auth.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Token{UID: f.uid}, nil
}

func TestFirebaseSignInWithToken(t *testing.T) {
	f := NewFirebaseWithVerifier(fakeVerifier{uid: "uid-123"})

	user, err := f.SignInWithToken(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("uid-123"), user)

	cur, known := f.Current()
	assert.True(t, known)
	assert.Equal(t, domain.UserID("uid-123"), cur.UserID)
}

func TestFirebaseRejectsBadToken(t *testing.T) {
	f := NewFirebaseWithVerifier(fakeVerifier{err: errors.New("token expired")})

	_, err := f.SignInWithToken(context.Background(), "token")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.SignInWithToken(context.Background(), "")
	assert.True(t, domain.IsValidation(err))

	cur, _ := f.Current()
	assert.False(t, cur.Authenticated())
}
