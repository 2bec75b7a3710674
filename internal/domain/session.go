package domain

// SessionState is the phase of the session state machine.
type SessionState string

const (
	SessionLoading         SessionState = "loading"
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
)

// Identity is one report from an identity provider. A zero UserID means signed out.
type Identity struct {
	UserID UserID
}

// Authenticated reports whether the identity carries a user.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// Session is a read-only snapshot of the session store.
type Session struct {
	State           SessionState
	Identity        UserID
	Following       []UserID
	FollowingLoaded bool // false until Following reflects the FollowStore
	LocalItems      int
}

// MutationStatus tracks the remote side of an optimistic follow change.
type MutationStatus string

const (
	MutationPending   MutationStatus = "pending"
	MutationConfirmed MutationStatus = "confirmed"
	MutationFailed    MutationStatus = "failed"
)

// FollowMutation is the latest optimistic follow/unfollow for one target.
type FollowMutation struct {
	Target UserID
	Follow bool
	Status MutationStatus
	Seq    uint64
	Err    string
}
