package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/instaflow/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "instaflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	posts := []*domain.Post{
		{ID: "p1", AuthorID: "alice", Kind: domain.KindPost, MediaURL: "https://cdn/p1.jpg", MediaType: "image/jpeg", CreatedAt: base},
		{ID: "p2", AuthorID: "bob", Kind: domain.KindReel, MediaURL: "https://cdn/p2.mp4", MediaType: "video/mp4", CreatedAt: base.Add(time.Minute)},
		{ID: "p3", AuthorID: "carol", Kind: domain.KindStory, MediaURL: "https://cdn/p3.jpg", MediaType: "image/jpeg", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "p4", AuthorID: "alice", Kind: domain.KindStory, Caption: "sunset", MediaURL: "https://cdn/p4.jpg", MediaType: "image/jpeg", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, p := range posts {
		require.NoError(t, s.CreatePost(ctx, p))
	}
	assert.Error(t, s.CreatePost(ctx, posts[0]), "duplicate id")

	got, err := s.GetPost(ctx, "p4")
	require.NoError(t, err)
	assert.Equal(t, posts[3], got)

	_, err = s.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.ListPostsByAuthors(ctx, []domain.UserID{"alice", "bob"}, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, domain.PostID("p4"), list[0].ID)
	assert.Equal(t, domain.PostID("p2"), list[1].ID)
	assert.Equal(t, domain.PostID("p1"), list[2].ID)

	list, err = s.ListPostsByAuthors(ctx, []domain.UserID{"alice", "bob", "carol"}, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListPostsByAuthors(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFollows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetFollow(ctx, "alice", "carol", true))
	require.NoError(t, s.SetFollow(ctx, "alice", "bob", true))
	require.NoError(t, s.SetFollow(ctx, "alice", "bob", true))

	following, err := s.ListFollowing(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob", "carol"}, following)

	require.NoError(t, s.SetFollow(ctx, "alice", "carol", false))
	following, err = s.ListFollowing(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, following)
}

func TestUsersUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.UpsertUser(ctx, &domain.User{ID: "alice", Username: "alice", CreatedAt: created}))
	require.NoError(t, s.UpsertUser(ctx, &domain.User{ID: "alice", Username: "alice", Bio: "film cameras", CreatedAt: created.Add(time.Hour)}))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "film cameras", u.Bio)
	assert.Equal(t, created, u.CreatedAt, "created_at is kept on update")

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
