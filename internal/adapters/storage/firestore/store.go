package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// maxInValues is Firestore's limit on values in an "in" filter.
const maxInValues = 30

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (INSTAFLOW_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) usersCol() *firestore.CollectionRef {
	return s.client.Collection("users")
}

func (s *Store) userDoc(id domain.UserID) *firestore.DocumentRef {
	return s.usersCol().Doc(string(id))
}

func (s *Store) postsCol() *firestore.CollectionRef {
	return s.client.Collection("posts")
}

func (s *Store) followingCol(follower domain.UserID) *firestore.CollectionRef {
	return s.userDoc(follower).Collection("following")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type userDoc struct {
	Username  string    `firestore:"username"`
	Bio       string    `firestore:"bio"`
	AvatarURL string    `firestore:"avatar_url"`
	CreatedAt time.Time `firestore:"created_at"`
}

type postDoc struct {
	AuthorID  string    `firestore:"author_id"`
	Kind      string    `firestore:"kind"`
	Caption   string    `firestore:"caption"`
	MediaURL  string    `firestore:"media_url"`
	MediaType string    `firestore:"media_type"`
	CreatedAt time.Time `firestore:"created_at"`
}

type followDoc struct {
	CreatedAt time.Time `firestore:"created_at"`
}

func (d postDoc) toDomain(id string) *domain.Post {
	return &domain.Post{
		ID:        domain.PostID(id),
		AuthorID:  domain.UserID(d.AuthorID),
		Kind:      domain.ParsePostKind(d.Kind),
		Caption:   d.Caption,
		MediaURL:  d.MediaURL,
		MediaType: d.MediaType,
		CreatedAt: d.CreatedAt,
	}
}

// ─────────────────────────────────────────
// UserStore implementation
// ─────────────────────────────────────────

func (s *Store) UpsertUser(ctx context.Context, user *domain.User) error {
	doc := userDoc{
		Username:  user.Username,
		Bio:       user.Bio,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
	}

	_, err := s.userDoc(user.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore UpsertUser: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	snap, err := s.userDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetUser: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetUser decode: %w", err)
	}

	return &domain.User{
		ID:        id,
		Username:  doc.Username,
		Bio:       doc.Bio,
		AvatarURL: doc.AvatarURL,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// ─────────────────────────────────────────
// PostStore implementation
// ─────────────────────────────────────────

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	doc := postDoc{
		AuthorID:  string(post.AuthorID),
		Kind:      string(post.Kind),
		Caption:   post.Caption,
		MediaURL:  post.MediaURL,
		MediaType: post.MediaType,
		CreatedAt: post.CreatedAt,
	}

	_, err := s.postsCol().Doc(string(post.ID)).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore CreatePost: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id domain.PostID) (*domain.Post, error) {
	snap, err := s.postsCol().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetPost: %w", err)
	}

	var doc postDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetPost decode: %w", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListPostsByAuthors queries in batches of maxInValues authors and merges
// the batches newest first.
func (s *Store) ListPostsByAuthors(ctx context.Context, authors []domain.UserID, limit int) ([]*domain.Post, error) {
	var out []*domain.Post
	for chunk := range slices.Chunk(authors, maxInValues) {
		posts, err := s.listChunk(ctx, chunk, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, posts...)
	}

	slices.SortStableFunc(out, func(a, b *domain.Post) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) listChunk(ctx context.Context, authors []domain.UserID, limit int) ([]*domain.Post, error) {
	ids := make([]string, 0, len(authors))
	for _, a := range authors {
		ids = append(ids, string(a))
	}

	q := s.postsCol().Where("author_id", "in", ids).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Post
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListPostsByAuthors: %w", err)
		}

		var doc postDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode postDoc: %w", err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}

// ─────────────────────────────────────────
// FollowStore implementation
// ─────────────────────────────────────────

func (s *Store) SetFollow(ctx context.Context, follower, target domain.UserID, follow bool) error {
	ref := s.followingCol(follower).Doc(string(target))

	var err error
	if follow {
		_, err = ref.Set(ctx, followDoc{CreatedAt: time.Now().UTC()})
	} else {
		_, err = ref.Delete(ctx)
	}
	if err != nil {
		return fmt.Errorf("firestore SetFollow: %w", err)
	}
	return nil
}

func (s *Store) ListFollowing(ctx context.Context, follower domain.UserID) ([]domain.UserID, error) {
	iter := s.followingCol(follower).Documents(ctx)
	defer iter.Stop()

	var out []domain.UserID
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListFollowing: %w", err)
		}
		out = append(out, domain.UserID(snap.Ref.ID))
	}
	slices.Sort(out)
	return out, nil
}
