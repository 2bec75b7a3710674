package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// PostStore keeps posts per author in insertion order.
// It is NOT persistent and is only suitable for development / local mode.
type PostStore struct {
	mu       sync.RWMutex
	posts    map[domain.PostID]*domain.Post
	byAuthor map[domain.UserID][]domain.PostID
}

func NewPostStore() *PostStore {
	return &PostStore{
		posts:    make(map[domain.PostID]*domain.Post),
		byAuthor: make(map[domain.UserID][]domain.PostID),
	}
}

func (s *PostStore) CreatePost(_ context.Context, post *domain.Post) error {
	if post == nil || post.ID == "" {
		return errors.New("post id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[post.ID]; exists {
		return errors.New("post already exists")
	}

	p := *post
	s.posts[p.ID] = &p
	s.byAuthor[p.AuthorID] = append(s.byAuthor[p.AuthorID], p.ID)
	return nil
}

func (s *PostStore) GetPost(_ context.Context, id domain.PostID) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *p
	return &out, nil
}

// ListPostsByAuthors returns posts by any of authors, newest first.
// limit <= 0 returns all.
func (s *PostStore) ListPostsByAuthors(_ context.Context, authors []domain.UserID, limit int) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Post
	for _, author := range authors {
		for _, id := range s.byAuthor[author] {
			p := *s.posts[id]
			out = append(out, &p)
		}
	}

	slices.SortStableFunc(out, func(a, b *domain.Post) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
