package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PabloGalante/instaflow/internal/app/caption"
	"github.com/PabloGalante/instaflow/internal/app/feed"
	"github.com/PabloGalante/instaflow/internal/app/session"
	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

// maxBodyBytes bounds request bodies; captions carry inline media.
const maxBodyBytes = 25 << 20

// signInTimeout bounds how long sign-in waits for the session to switch.
const signInTimeout = 5 * time.Second

// Authenticator signs users in and out of the identity provider.
type Authenticator interface {
	SignIn(user domain.UserID)
	SignOut()
}

// TokenAuthenticator signs users in from a verified ID token.
type TokenAuthenticator interface {
	SignInWithToken(ctx context.Context, idToken string) (domain.UserID, error)
}

type Deps struct {
	Captions       *caption.Service
	Session        *session.Store
	Feed           *feed.Service
	Auth           Authenticator
	AllowedOrigins []string
}

type Server struct {
	captions *caption.Service
	session  *session.Store
	feed     *feed.Service
	auth     Authenticator
	upgrader websocket.Upgrader
}

func NewServer(d Deps) http.Handler {
	s := &Server{
		captions: d.Captions,
		session:  d.Session,
		feed:     d.Feed,
		auth:     d.Auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(d.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), withRequestID(), withLogging(), withCORS(d.AllowedOrigins))

	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api")
	api.GET("/session", s.handleGetSession)
	api.POST("/session/sign-in", s.handleSignIn)
	api.POST("/session/sign-out", s.handleSignOut)
	api.GET("/session/stream", s.handleSessionStream)

	api.POST("/captions", s.handleCaption)

	api.GET("/follows", s.handleListFollows)
	api.POST("/follows/:id/toggle", s.handleToggleFollow)

	api.POST("/posts", s.handlePublish)
	api.GET("/posts/:id", s.handleGetPost)
	api.GET("/feed", s.handleFeed)
	api.DELETE("/feed/local", s.handleClearLocal)

	api.GET("/users/:id", s.handleProfile)

	return engine
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type sessionResponse struct {
	State           string   `json:"state"`
	UserID          string   `json:"user_id,omitempty"`
	Following       []string `json:"following"`
	FollowingLoaded bool     `json:"following_loaded"`
	LocalItems      int      `json:"local_items"`
}

type signInRequest struct {
	UserID  string `json:"user_id"`
	IDToken string `json:"id_token"`
}

type toggleFollowResponse struct {
	Target    string `json:"target"`
	Following bool   `json:"following"`
	Status    string `json:"status"`
}

type mutationResponse struct {
	Target string `json:"target"`
	Follow bool   `json:"follow"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type followsResponse struct {
	Following []string           `json:"following"`
	Mutations []mutationResponse `json:"mutations"`
}

type postResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Kind      string    `json:"kind"`
	Caption   string    `json:"caption"`
	MediaURL  string    `json:"media_url"`
	MediaType string    `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
}

type feedEntryResponse struct {
	postResponse
	Local bool `json:"local"`
}

type feedResponse struct {
	Items []feedEntryResponse `json:"items"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type profileResponse struct {
	User  userResponse   `json:"user"`
	Posts []postResponse `json:"posts"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionResponse(s.session.Snapshot()))
}

func (s *Server) handleSignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	ctx := c.Request.Context()
	var user domain.UserID
	if tokens, ok := s.auth.(TokenAuthenticator); ok {
		id, err := tokens.SignInWithToken(ctx, req.IDToken)
		if err != nil {
			s.fail(c, err)
			return
		}
		user = id
	} else {
		if req.UserID == "" {
			badRequest(c, "user_id is required")
			return
		}
		user = domain.UserID(req.UserID)
		s.auth.SignIn(user)
	}

	if err := s.feed.EnsureUser(ctx, user); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to record user profile", "user_id", user, "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, signInTimeout)
	defer cancel()
	snap, err := s.session.AwaitState(waitCtx, func(snap domain.Session) bool {
		return snap.State == domain.SessionAuthenticated && snap.Identity == user
	})
	if err != nil {
		s.fail(c, domain.ErrSessionLoading)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(snap))
}

func (s *Server) handleSignOut(c *gin.Context) {
	s.auth.SignOut()

	waitCtx, cancel := context.WithTimeout(c.Request.Context(), signInTimeout)
	defer cancel()
	snap, err := s.session.AwaitState(waitCtx, func(snap domain.Session) bool {
		return snap.State == domain.SessionUnauthenticated
	})
	if err != nil {
		s.fail(c, domain.ErrSessionLoading)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(snap))
}

func (s *Server) handleCaption(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var in domain.CaptionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}

	resp, err := s.captions.GenerateFromInput(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListFollows(c *gin.Context) {
	if _, err := s.session.CurrentUser(); err != nil {
		s.fail(c, err)
		return
	}

	resp := followsResponse{
		Following: idsToStrings(s.session.Following()),
		Mutations: []mutationResponse{},
	}
	for _, m := range s.session.PendingMutations() {
		resp.Mutations = append(resp.Mutations, mutationResponse{
			Target: string(m.Target),
			Follow: m.Follow,
			Status: string(m.Status),
			Error:  m.Err,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleToggleFollow(c *gin.Context) {
	target := domain.UserID(c.Param("id"))

	following, err := s.session.ToggleFollow(target)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toggleFollowResponse{
		Target:    string(target),
		Following: following,
		Status:    string(domain.MutationPending),
	})
}

func (s *Server) handlePublish(c *gin.Context) {
	var in domain.NewPostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}

	post, err := s.feed.Publish(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPostResponse(*post))
}

func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.feed.Post(c.Request.Context(), domain.PostID(c.Param("id")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPostResponse(*post))
}

func (s *Server) handleFeed(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.feed.Home(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := feedResponse{Items: make([]feedEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, feedEntryResponse{postResponse: toPostResponse(e.Post), Local: e.Local})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClearLocal(c *gin.Context) {
	if _, err := s.session.CurrentUser(); err != nil {
		s.fail(c, err)
		return
	}
	s.session.ClearLocalItems()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProfile(c *gin.Context) {
	profile, err := s.feed.Profile(c.Request.Context(), domain.UserID(c.Param("id")), 0)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := profileResponse{
		User: userResponse{
			ID:        string(profile.User.ID),
			Username:  profile.User.Username,
			Bio:       profile.User.Bio,
			AvatarURL: profile.User.AvatarURL,
			CreatedAt: profile.User.CreatedAt,
		},
		Posts: make([]postResponse, 0, len(profile.Posts)),
	}
	for _, p := range profile.Posts {
		resp.Posts = append(resp.Posts, toPostResponse(p))
	}
	c.JSON(http.StatusOK, resp)
}

// ─────────────────────────────────────────────
// Mappers
// ─────────────────────────────────────────────

func toSessionResponse(snap domain.Session) sessionResponse {
	return sessionResponse{
		State:           string(snap.State),
		UserID:          string(snap.Identity),
		Following:       idsToStrings(snap.Following),
		FollowingLoaded: snap.FollowingLoaded,
		LocalItems:      snap.LocalItems,
	}
}

func toPostResponse(p domain.Post) postResponse {
	return postResponse{
		ID:        string(p.ID),
		AuthorID:  string(p.AuthorID),
		Kind:      string(p.Kind),
		Caption:   p.Caption,
		MediaURL:  p.MediaURL,
		MediaType: p.MediaType,
		CreatedAt: p.CreatedAt,
	}
}

func idsToStrings(ids []domain.UserID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

// fail maps domain errors to status codes. Loading answers 503 so clients
// do not treat an unresolved session as signed out.
func (s *Server) fail(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var gerr *domain.GenerationError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &gerr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not generate a caption, try again"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
	case errors.Is(err, domain.ErrSessionLoading):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session is still loading"})
	default:
		observability.LoggerFromContext(c.Request.Context()).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
