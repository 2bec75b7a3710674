package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/instaflow/internal/app/session"
	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

// authorChunk matches the largest "in" filter the document store accepts.
const authorChunk = 30

type Options struct {
	PageSize int
	StoryTTL time.Duration
}

type Service struct {
	session *session.Store
	posts   domain.PostStore
	users   domain.UserStore
	opts    Options
	now     func() time.Time
	newID   func() domain.PostID
}

func NewService(sess *session.Store, posts domain.PostStore, users domain.UserStore, opts Options) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	return &Service{
		session: sess,
		posts:   posts,
		users:   users,
		opts:    opts,
		now:     time.Now,
		newID:   func() domain.PostID { return domain.PostID(uuid.NewString()) },
	}
}

// Publish stores a new post by the signed-in user and shows it at the head
// of the session's feed right away.
func (s *Service) Publish(ctx context.Context, in domain.NewPostInput) (*domain.Post, error) {
	ref, err := s.session.CurrentRef()
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	me := ref.User

	post := &domain.Post{
		ID:        s.newID(),
		AuthorID:  me,
		Kind:      domain.ParsePostKind(in.Kind),
		Caption:   in.Caption,
		MediaURL:  in.MediaURL,
		MediaType: in.MediaType,
		CreatedAt: s.now().UTC(),
	}

	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	log := observability.LoggerFromContext(ctx)
	if !s.session.AddLocalItemFor(ref, domain.LocalFeedItem{Post: *post, CreatedAt: post.CreatedAt}) {
		log.Warn("identity changed while publishing, post not added to local feed", "post_id", post.ID)
	}

	log.Info("post published",
		"post_id", post.ID,
		"author_id", me,
		"kind", post.Kind,
	)
	return post, nil
}

// Home returns the signed-in user's feed: local items first, then remote
// posts by the user and everyone they follow, newest first.
func (s *Service) Home(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	me, err := s.session.CurrentUser()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}

	authors := append([]domain.UserID{me}, s.session.Following()...)
	remote, err := s.fetch(ctx, authors, limit)
	if err != nil {
		return nil, err
	}
	return s.session.AssembleFeed(remote), nil
}

func (s *Service) fetch(ctx context.Context, authors []domain.UserID, limit int) ([]domain.Post, error) {
	var (
		mu  sync.Mutex
		all []*domain.Post
	)

	g, gctx := errgroup.WithContext(ctx)
	for chunk := range slices.Chunk(authors, authorChunk) {
		g.Go(func() error {
			posts, err := s.posts.ListPostsByAuthors(gctx, chunk, limit)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, posts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	slices.SortStableFunc(all, func(a, b *domain.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	now := s.now()
	out := make([]domain.Post, 0, min(len(all), limit))
	for _, p := range all {
		if p.Expired(now, s.opts.StoryTTL) {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Post returns one stored post. Expired stories are reported as not found.
func (s *Service) Post(ctx context.Context, id domain.PostID) (*domain.Post, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "post_id", Reason: "is required"}
	}
	post, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Expired(s.now(), s.opts.StoryTTL) {
		return nil, domain.ErrNotFound
	}
	return post, nil
}

// Profile is a user's public profile with their posts.
type Profile struct {
	User  domain.User
	Posts []domain.Post
}

// Profile loads userID's profile grid. Users with posts but no stored
// profile get a bare profile.
func (s *Service) Profile(ctx context.Context, userID domain.UserID, limit int) (*Profile, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}

	user, err := s.users.GetUser(ctx, userID)
	known := err == nil
	switch {
	case errors.Is(err, domain.ErrNotFound):
		user = &domain.User{ID: userID}
	case err != nil:
		return nil, fmt.Errorf("get user: %w", err)
	}

	posts, err := s.posts.ListPostsByAuthors(ctx, []domain.UserID{userID}, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if !known && len(posts) == 0 {
		return nil, domain.ErrNotFound
	}

	now := s.now()
	out := &Profile{User: *user}
	for _, p := range posts {
		if p.Expired(now, s.opts.StoryTTL) {
			continue
		}
		out.Posts = append(out.Posts, *p)
	}
	return out, nil
}

// EnsureUser records a profile for the signed-in user if none exists yet.
func (s *Service) EnsureUser(ctx context.Context, id domain.UserID) error {
	_, err := s.users.GetUser(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.users.UpsertUser(ctx, &domain.User{ID: id, Username: string(id), CreatedAt: s.now().UTC()})
}
