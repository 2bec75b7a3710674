package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

// FailurePolicy decides what happens to an optimistic follow change whose
// persistence failed after all retries.
type FailurePolicy string

const (
	KeepOptimistic FailurePolicy = "keep"
	Rollback       FailurePolicy = "rollback"
)

type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	OnFailure     FailurePolicy
}

func (o Options) withDefaults() Options {
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 1
	}
	if o.OnFailure == "" {
		o.OnFailure = KeepOptimistic
	}
	return o
}

// Store is the session-scoped state behind the feed: who is signed in, whom
// they follow, and the posts created locally during the session. It is the
// only place that state is mutated.
type Store struct {
	follows domain.FollowStore
	opts    Options
	now     func() time.Time
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     domain.SessionState
	identity  domain.UserID
	epoch     uint64
	loaded    bool // following set reconciled with the FollowStore
	loading   bool // a background reload is in flight
	seq       uint64
	following map[domain.UserID]struct{}
	confirmed map[domain.UserID]bool
	mutations map[domain.UserID]*domain.FollowMutation
	writing   map[domain.UserID]bool
	local     []domain.LocalFeedItem // oldest first; rendered in reverse
	subs      map[int]chan domain.Session
	nextSub   int
}

// NewStore returns a store in the Loading state.
func NewStore(follows domain.FollowStore, opts Options) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		follows:   follows,
		opts:      opts.withDefaults(),
		now:       time.Now,
		log:       observability.WithFields("component", "session"),
		ctx:       ctx,
		cancel:    cancel,
		state:     domain.SessionLoading,
		following: make(map[domain.UserID]struct{}),
		confirmed: make(map[domain.UserID]bool),
		mutations: make(map[domain.UserID]*domain.FollowMutation),
		writing:   make(map[domain.UserID]bool),
		subs:      make(map[int]chan domain.Session),
	}
}

// ─────────────────────────────────────────
// Identity
// ─────────────────────────────────────────

// Resolve follows the identity provider until ctx is done, driving the
// Loading -> Authenticated/Unauthenticated state machine on every report.
func (s *Store) Resolve(ctx context.Context, provider domain.IdentityProvider) error {
	for id := range provider.Subscribe(ctx) {
		s.ApplyIdentity(ctx, id)
	}
	return ctx.Err()
}

// AwaitResolved blocks until the session has left Loading and returns it.
func (s *Store) AwaitResolved(ctx context.Context) (domain.Session, error) {
	return s.AwaitState(ctx, func(snap domain.Session) bool {
		return snap.State != domain.SessionLoading
	})
}

// AwaitState blocks until a snapshot satisfies match.
func (s *Store) AwaitState(ctx context.Context, match func(domain.Session) bool) (domain.Session, error) {
	ch, cancel := s.Subscribe()
	defer cancel()

	for {
		select {
		case snap := <-ch:
			if match(snap) {
				return snap, nil
			}
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		}
	}
}

// ApplyIdentity moves the state machine for one provider report.
func (s *Store) ApplyIdentity(ctx context.Context, id domain.Identity) {
	if !id.Authenticated() {
		s.mu.Lock()
		if s.state == domain.SessionUnauthenticated {
			s.mu.Unlock()
			return
		}
		wasSignedIn := s.state == domain.SessionAuthenticated
		s.resetLocked()
		s.state = domain.SessionUnauthenticated
		s.broadcastLocked()
		s.mu.Unlock()

		if wasSignedIn {
			s.log.Info("signed out")
		}
		return
	}

	s.mu.Lock()
	if s.state == domain.SessionAuthenticated && s.identity == id.UserID {
		// token refresh for the same user; retry the following load if it never landed
		if !s.loaded && !s.loading {
			s.startReloadLocked()
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	following, err := s.follows.ListFollowing(ctx, id.UserID)

	s.mu.Lock()
	s.resetLocked()
	s.state = domain.SessionAuthenticated
	s.identity = id.UserID
	if err != nil {
		s.log.Error("failed to load following set", "user_id", id.UserID, "error", err)
		s.startReloadLocked()
	} else {
		s.applyRemoteLocked(following)
	}
	s.broadcastLocked()
	s.mu.Unlock()

	s.log.Info("signed in", "user_id", id.UserID, "following", len(following))
}

func (s *Store) startReloadLocked() {
	s.loading = true
	s.wg.Add(1)
	go s.reloadFollowing(s.epoch, s.identity)
}

// reloadFollowing retries the following load for user until it succeeds or
// retries run out. A result for a replaced identity is dropped.
func (s *Store) reloadFollowing(epoch uint64, user domain.UserID) {
	defer s.wg.Done()

	var following []domain.UserID
	err := s.retry("load following", func(ctx context.Context) error {
		var err error
		following, err = s.follows.ListFollowing(ctx, user)
		return err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.loading = false
	if err != nil {
		s.log.Error("following set still not loaded", "user_id", user, "error", err)
		return
	}
	s.applyRemoteLocked(following)
	s.broadcastLocked()
	s.log.Info("following set reconciled", "user_id", user, "following", len(following))
}

// applyRemoteLocked takes the stored following set as confirmed state and
// replays local toggles on top of it.
func (s *Store) applyRemoteLocked(remote []domain.UserID) {
	s.following = make(map[domain.UserID]struct{}, len(remote))
	s.confirmed = make(map[domain.UserID]bool, len(remote))
	for _, target := range remote {
		s.following[target] = struct{}{}
		s.confirmed[target] = true
	}
	for target, m := range s.mutations {
		if m.Status == domain.MutationFailed && s.opts.OnFailure == Rollback {
			continue
		}
		if m.Status == domain.MutationConfirmed {
			s.confirmed[target] = m.Follow
		}
		if m.Follow {
			s.following[target] = struct{}{}
		} else {
			delete(s.following, target)
		}
	}
	s.loaded = true
}

// resetLocked drops everything owned by the previous identity.
func (s *Store) resetLocked() {
	s.epoch++
	s.identity = ""
	s.loaded = false
	s.loading = false
	s.following = make(map[domain.UserID]struct{})
	s.confirmed = make(map[domain.UserID]bool)
	s.mutations = make(map[domain.UserID]*domain.FollowMutation)
	s.writing = make(map[domain.UserID]bool)
	s.local = nil
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CurrentUser returns the signed-in identity, or ErrSessionLoading /
// ErrUnauthenticated.
func (s *Store) CurrentUser() (domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUserLocked()
}

func (s *Store) currentUserLocked() (domain.UserID, error) {
	switch s.state {
	case domain.SessionLoading:
		return "", domain.ErrSessionLoading
	case domain.SessionUnauthenticated:
		return "", domain.ErrUnauthenticated
	}
	return s.identity, nil
}

func (s *Store) snapshotLocked() domain.Session {
	following := make([]domain.UserID, 0, len(s.following))
	for id := range s.following {
		following = append(following, id)
	}
	slices.Sort(following)

	return domain.Session{
		State:           s.state,
		Identity:        s.identity,
		Following:       following,
		FollowingLoaded: s.loaded,
		LocalItems:      len(s.local),
	}
}

// ─────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────

// Subscribe returns a channel that receives the current snapshot and every
// later change. Slow readers only miss intermediate snapshots, never the
// latest one. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan domain.Session, func()) {
	ch := make(chan domain.Session, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// broadcastLocked must run under s.mu so snapshots reach subscribers in
// mutation order.
func (s *Store) broadcastLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// ─────────────────────────────────────────
// Follow relationships
// ─────────────────────────────────────────

// ToggleFollow flips target in the following set right away and persists the
// change in the background. It returns whether target is now followed.
func (s *Store) ToggleFollow(target domain.UserID) (bool, error) {
	if target == "" {
		return false, &domain.ValidationError{Field: "target", Reason: "is required"}
	}

	s.mu.Lock()
	me, err := s.currentUserLocked()
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if target == me {
		s.mu.Unlock()
		return false, &domain.ValidationError{Field: "target", Reason: "cannot follow yourself"}
	}

	_, followed := s.following[target]
	follow := !followed
	if follow {
		s.following[target] = struct{}{}
	} else {
		delete(s.following, target)
	}

	s.seq++
	s.mutations[target] = &domain.FollowMutation{
		Target: target,
		Follow: follow,
		Status: domain.MutationPending,
		Seq:    s.seq,
	}

	if !s.writing[target] {
		s.writing[target] = true
		s.wg.Add(1)
		go s.persist(s.epoch, me, target)
	}
	s.broadcastLocked()
	s.mu.Unlock()

	return follow, nil
}

// IsFollowing reports whether target is in the local following set.
func (s *Store) IsFollowing(target domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.following[target]
	return ok
}

// Following returns the local following set, sorted.
func (s *Store) Following() []domain.UserID {
	return s.Snapshot().Following
}

// PendingMutations returns the latest mutation per target in toggle order.
func (s *Store) PendingMutations() []domain.FollowMutation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FollowMutation, 0, len(s.mutations))
	for _, m := range s.mutations {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b domain.FollowMutation) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// persist writes the latest desired state for target until it is caught up.
// At most one persist goroutine runs per target, so writes for the same
// target never race each other.
func (s *Store) persist(epoch uint64, follower, target domain.UserID) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		m := s.mutations[target]
		desired, seq := m.Follow, m.Seq
		s.mu.Unlock()

		err := s.writeFollow(follower, target, desired)

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		cur := s.mutations[target]
		if cur.Seq != seq {
			// toggled again while writing; persist the newer state
			s.mu.Unlock()
			continue
		}

		if err == nil {
			cur.Status = domain.MutationConfirmed
			cur.Err = ""
			s.confirmed[target] = desired
		} else {
			cur.Status = domain.MutationFailed
			cur.Err = err.Error()
			s.log.Error("follow change not persisted",
				"error", &domain.PersistenceError{Op: followOp(desired), Target: target, Err: err},
				"policy", string(s.opts.OnFailure))

			if s.opts.OnFailure == Rollback {
				if s.confirmed[target] {
					s.following[target] = struct{}{}
				} else {
					delete(s.following, target)
				}
				s.broadcastLocked()
			}
		}
		s.writing[target] = false
		s.mu.Unlock()
		return
	}
}

func (s *Store) writeFollow(follower, target domain.UserID, follow bool) error {
	return s.retry(followOp(follow)+" "+string(target), func(ctx context.Context) error {
		return s.follows.SetFollow(ctx, follower, target, follow)
	})
}

// retry runs fn up to RetryAttempts times with doubling backoff. Close
// aborts the wait between attempts.
func (s *Store) retry(op string, fn func(ctx context.Context) error) error {
	backoff := s.opts.RetryBackoff
	var err error

	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = fn(s.ctx)
		if err == nil {
			return nil
		}
		if attempt == s.opts.RetryAttempts {
			break
		}

		s.log.Warn("retrying", "op", op, "attempt", attempt, "error", err)
		if backoff <= 0 {
			continue
		}
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return errors.Join(err, s.ctx.Err())
		}
		backoff *= 2
	}
	return fmt.Errorf("after %d attempts: %w", s.opts.RetryAttempts, err)
}

func followOp(follow bool) string {
	if follow {
		return "follow"
	}
	return "unfollow"
}

// Wait blocks until all in-flight follow persistence has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close stops retries and waits for background persistence to exit.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// ─────────────────────────────────────────
// Local feed items
// ─────────────────────────────────────────

// AddLocalItem puts item at the head of the local sequence.
func (s *Store) AddLocalItem(item domain.LocalFeedItem) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.local = append(s.local, item)
	s.broadcastLocked()
	s.mu.Unlock()
}

// Ref pins the signed-in identity as of CurrentRef.
type Ref struct {
	User  domain.UserID
	epoch uint64
}

// CurrentRef is CurrentUser plus a marker that AddLocalItemFor checks.
func (s *Store) CurrentRef() (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.currentUserLocked()
	if err != nil {
		return Ref{}, err
	}
	return Ref{User: user, epoch: s.epoch}, nil
}

// AddLocalItemFor adds item only if the identity behind ref is still
// signed in. It reports whether the item was added.
func (s *Store) AddLocalItemFor(ref Ref, item domain.LocalFeedItem) bool {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionAuthenticated || s.epoch != ref.epoch {
		return false
	}
	s.local = append(s.local, item)
	s.broadcastLocked()
	return true
}

// ClearLocalItems empties the local sequence.
func (s *Store) ClearLocalItems() {
	s.mu.Lock()
	s.local = nil
	s.broadcastLocked()
	s.mu.Unlock()
}

// LocalItems returns the local items, most recent first.
func (s *Store) LocalItems() []domain.LocalFeedItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LocalFeedItem, 0, len(s.local))
	for i := len(s.local) - 1; i >= 0; i-- {
		out = append(out, s.local[i])
	}
	return out
}

// AssembleFeed renders local items (most recent first) ahead of remote,
// whose order is kept. A remote post with the same id as a local one is
// dropped; posts without an id are never merged.
func (s *Store) AssembleFeed(remote []domain.Post) []domain.FeedEntry {
	local := s.LocalItems()

	out := make([]domain.FeedEntry, 0, len(local)+len(remote))
	seen := make(map[domain.PostID]struct{}, len(local))
	for _, item := range local {
		out = append(out, domain.FeedEntry{Post: item.Post, Local: true})
		if item.Post.ID != "" {
			seen[item.Post.ID] = struct{}{}
		}
	}
	for _, p := range remote {
		if p.ID != "" {
			if _, dup := seen[p.ID]; dup {
				continue
			}
		}
		out = append(out, domain.FeedEntry{Post: p})
	}
	return out
}
