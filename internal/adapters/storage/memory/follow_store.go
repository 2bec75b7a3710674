package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/PabloGalante/instaflow/internal/domain"
)

type FollowStore struct {
	mu        sync.RWMutex
	following map[domain.UserID]map[domain.UserID]struct{}
}

func NewFollowStore() *FollowStore {
	return &FollowStore{
		following: make(map[domain.UserID]map[domain.UserID]struct{}),
	}
}

func (s *FollowStore) SetFollow(_ context.Context, follower, target domain.UserID, follow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.following[follower]
	if follow {
		if set == nil {
			set = make(map[domain.UserID]struct{})
			s.following[follower] = set
		}
		set[target] = struct{}{}
		return nil
	}
	delete(set, target)
	return nil
}

// ListFollowing returns the follower's targets, sorted.
func (s *FollowStore) ListFollowing(_ context.Context, follower domain.UserID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserID, 0, len(s.following[follower]))
	for target := range s.following[follower] {
		out = append(out, target)
	}
	slices.Sort(out)
	return out, nil
}
