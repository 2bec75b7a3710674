package identity

import (
	"context"
	"sync"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// Static is an in-process identity provider. Until the first SignIn or
// SignOut it reports nothing, so subscribers stay in Loading.
type Static struct {
	mu      sync.Mutex
	known   bool
	current domain.Identity
	subs    map[int]chan domain.Identity
	nextSub int
}

func NewStatic() *Static {
	return &Static{subs: make(map[int]chan domain.Identity)}
}

// NewStaticSignedIn returns a provider that already reports user.
// An empty user starts signed out.
func NewStaticSignedIn(user domain.UserID) *Static {
	s := NewStatic()
	s.known = true
	s.current = domain.Identity{UserID: user}
	return s
}

func (s *Static) SignIn(user domain.UserID) {
	s.publish(domain.Identity{UserID: user})
}

func (s *Static) SignOut() {
	s.publish(domain.Identity{})
}

// Current returns the last reported identity and whether one was reported.
func (s *Static) Current() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.known
}

// Subscribe emits the current identity (if known) and every later change.
// Only the latest identity is kept for slow readers.
func (s *Static) Subscribe(ctx context.Context) <-chan domain.Identity {
	in := make(chan domain.Identity, 1)
	out := make(chan domain.Identity)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = in
	if s.known {
		in <- s.current
	}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		for {
			select {
			case ident := <-in:
				select {
				case out <- ident:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Static) publish(ident domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.known = true
	s.current = ident
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- ident
	}
}
