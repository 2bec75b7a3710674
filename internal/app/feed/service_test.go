package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/instaflow/internal/adapters/storage/memory"
	"github.com/PabloGalante/instaflow/internal/app/session"
	"github.com/PabloGalante/instaflow/internal/domain"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	sess    *session.Store
	posts   *memory.PostStore
	users   *memory.UserStore
	follows *memory.FollowStore
}

func newFixture(t *testing.T, me domain.UserID) *fixture {
	t.Helper()
	f := &fixture{
		posts:   memory.NewPostStore(),
		users:   memory.NewUserStore(),
		follows: memory.NewFollowStore(),
	}
	f.sess = session.NewStore(f.follows, session.Options{})
	t.Cleanup(f.sess.Close)
	if me != "" {
		f.sess.ApplyIdentity(context.Background(), domain.Identity{UserID: me})
	}

	f.svc = NewService(f.sess, f.posts, f.users, Options{PageSize: 10, StoryTTL: 24 * time.Hour})
	f.svc.now = func() time.Time { return base.Add(time.Hour) }
	seq := 0
	f.svc.newID = func() domain.PostID {
		seq++
		return domain.PostID(fmt.Sprintf("local-%d", seq))
	}
	return f
}

func (f *fixture) seed(t *testing.T, posts ...*domain.Post) {
	t.Helper()
	for _, p := range posts {
		require.NoError(t, f.posts.CreatePost(context.Background(), p))
	}
}

func entryIDs(entries []domain.FeedEntry) []domain.PostID {
	out := make([]domain.PostID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Post.ID)
	}
	return out
}

func TestHomeRequiresSession(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.Home(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrSessionLoading)

	f.sess.ApplyIdentity(context.Background(), domain.Identity{})
	_, err = f.svc.Home(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestHomeMergesFollowedAuthors(t *testing.T) {
	f := newFixture(t, "alice")
	f.seed(t,
		&domain.Post{ID: "a1", AuthorID: "alice", Kind: domain.KindPost, CreatedAt: base},
		&domain.Post{ID: "b1", AuthorID: "bob", Kind: domain.KindPost, CreatedAt: base.Add(10 * time.Minute)},
		&domain.Post{ID: "c1", AuthorID: "carol", Kind: domain.KindPost, CreatedAt: base.Add(20 * time.Minute)},
	)

	_, err := f.sess.ToggleFollow("bob")
	require.NoError(t, err)
	f.sess.Wait()

	feed, err := f.svc.Home(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.PostID{"b1", "a1"}, entryIDs(feed))
}

func TestHomeDropsExpiredStories(t *testing.T) {
	f := newFixture(t, "alice")
	f.seed(t,
		&domain.Post{ID: "old-story", AuthorID: "alice", Kind: domain.KindStory, CreatedAt: base.Add(-48 * time.Hour)},
		&domain.Post{ID: "story", AuthorID: "alice", Kind: domain.KindStory, CreatedAt: base},
		&domain.Post{ID: "old-post", AuthorID: "alice", Kind: domain.KindPost, CreatedAt: base.Add(-48 * time.Hour)},
	)

	feed, err := f.svc.Home(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.PostID{"story", "old-post"}, entryIDs(feed))
}

func TestHomeChunksManyAuthors(t *testing.T) {
	f := newFixture(t, "alice")

	for i := range 75 {
		author := domain.UserID(fmt.Sprintf("user-%02d", i))
		require.NoError(t, f.follows.SetFollow(context.Background(), "alice", author, true))
		f.seed(t, &domain.Post{ID: domain.PostID(fmt.Sprintf("p-%02d", i)), AuthorID: author, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	// reload the following set from the store
	f.sess.ApplyIdentity(context.Background(), domain.Identity{})
	f.sess.ApplyIdentity(context.Background(), domain.Identity{UserID: "alice"})

	feed, err := f.svc.Home(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.PostID{"p-74", "p-73", "p-72", "p-71", "p-70"}, entryIDs(feed))
}

func TestPublishShowsLocalItemFirst(t *testing.T) {
	f := newFixture(t, "alice")
	f.seed(t, &domain.Post{ID: "r1", AuthorID: "alice", CreatedAt: base})

	post, err := f.svc.Publish(context.Background(), domain.NewPostInput{
		Kind:      "reel",
		Caption:   "Golden hour vibes",
		MediaURL:  "https://cdn.example.com/v.mp4",
		MediaType: "video/mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindReel, post.Kind)
	assert.Equal(t, domain.UserID("alice"), post.AuthorID)

	feed, err := f.svc.Home(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, feed, 2, "the stored copy is merged with the local one")
	assert.True(t, feed[0].Local)
	assert.Equal(t, post.ID, feed[0].Post.ID)
	assert.Equal(t, domain.PostID("r1"), feed[1].Post.ID)
}

func TestPublishValidatesInput(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.svc.Publish(context.Background(), domain.NewPostInput{MediaURL: "not a url", MediaType: "image/png"})
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Publish(context.Background(), domain.NewPostInput{MediaURL: "https://cdn/x.bmp", MediaType: "image/bmp"})
	assert.True(t, domain.IsValidation(err))

	assert.Empty(t, f.sess.LocalItems())
}

type failingPosts struct{ *memory.PostStore }

func (failingPosts) ListPostsByAuthors(context.Context, []domain.UserID, int) ([]*domain.Post, error) {
	return nil, errors.New("deadline exceeded")
}

func TestHomePropagatesStoreErrors(t *testing.T) {
	f := newFixture(t, "alice")
	f.svc.posts = failingPosts{f.posts}

	_, err := f.svc.Home(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestProfile(t *testing.T) {
	f := newFixture(t, "alice")
	require.NoError(t, f.users.UpsertUser(context.Background(), &domain.User{ID: "bob", Username: "bobby"}))
	f.seed(t,
		&domain.Post{ID: "b1", AuthorID: "bob", CreatedAt: base},
		&domain.Post{ID: "b2", AuthorID: "bob", CreatedAt: base.Add(time.Minute)},
	)

	p, err := f.svc.Profile(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, "bobby", p.User.Username)
	require.Len(t, p.Posts, 2)
	assert.Equal(t, domain.PostID("b2"), p.Posts[0].ID)

	_, err = f.svc.Profile(context.Background(), "nobody", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnsureUser(t *testing.T) {
	f := newFixture(t, "alice")

	require.NoError(t, f.svc.EnsureUser(context.Background(), "alice"))
	require.NoError(t, f.svc.EnsureUser(context.Background(), "alice"))

	u, err := f.users.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

// switchingPosts signs a different user in while a post is being stored.
type switchingPosts struct {
	*memory.PostStore
	onCreate func()
}

func (p switchingPosts) CreatePost(ctx context.Context, post *domain.Post) error {
	err := p.PostStore.CreatePost(ctx, post)
	p.onCreate()
	return err
}

func TestPublishSkipsLocalItemAfterIdentitySwitch(t *testing.T) {
	f := newFixture(t, "alice")
	f.svc.posts = switchingPosts{PostStore: f.posts, onCreate: func() {
		f.sess.ApplyIdentity(context.Background(), domain.Identity{UserID: "bob"})
	}}

	post, err := f.svc.Publish(context.Background(), domain.NewPostInput{
		MediaURL:  "https://cdn.example.com/a.jpg",
		MediaType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), post.AuthorID)

	assert.Equal(t, domain.UserID("bob"), f.sess.Snapshot().Identity)
	assert.Empty(t, f.sess.LocalItems(), "alice's post must not land in bob's local feed")

	stored, err := f.posts.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), stored.AuthorID)
}

func TestPost(t *testing.T) {
	f := newFixture(t, "alice")
	f.seed(t,
		&domain.Post{ID: "p1", AuthorID: "bob", Kind: domain.KindPost, CreatedAt: base},
		&domain.Post{ID: "old-story", AuthorID: "bob", Kind: domain.KindStory, CreatedAt: base.Add(-48 * time.Hour)},
	)

	p, err := f.svc.Post(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), p.AuthorID)

	_, err = f.svc.Post(context.Background(), "old-story")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Post(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Post(context.Background(), "")
	assert.True(t, domain.IsValidation(err))
}
