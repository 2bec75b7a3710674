package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/PabloGalante/instaflow/internal/adapters/http"
	"github.com/PabloGalante/instaflow/internal/adapters/identity"
	"github.com/PabloGalante/instaflow/internal/adapters/llm"
	"github.com/PabloGalante/instaflow/internal/adapters/storage/memory"
	"github.com/PabloGalante/instaflow/internal/app/caption"
	"github.com/PabloGalante/instaflow/internal/app/feed"
	"github.com/PabloGalante/instaflow/internal/app/session"
	"github.com/PabloGalante/instaflow/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	handler http.Handler
	auth    *identity.Static
	session *session.Store
}

func newTestEnv(t *testing.T, model domain.CaptionModel) *testEnv {
	t.Helper()

	if model == nil {
		model = llm.NewMockLLM()
	}
	auth := identity.NewStatic()
	sess := session.NewStore(memory.NewFollowStore(), session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Resolve(ctx, auth)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sess.Close()
	})

	feedSvc := feed.NewService(sess, memory.NewPostStore(), memory.NewUserStore(), feed.Options{PageSize: 20, StoryTTL: 24 * time.Hour})

	return &testEnv{
		handler: httpadapter.NewServer(httpadapter.Deps{
			Captions: caption.NewService(model),
			Session:  sess,
			Feed:     feedSvc,
			Auth:     auth,
		}),
		auth:    auth,
		session: sess,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signIn(t *testing.T, user string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/session/sign-in", `{"user_id":"`+user+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestLoadingSessionAnswers503(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "loading", decode[map[string]any](t, w)["state"])

	w = env.do(t, http.MethodGet, "/api/feed", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSignedOutAnswers401(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/session/sign-out", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unauthenticated", decode[map[string]any](t, w)["state"])

	w = env.do(t, http.MethodPost, "/api/follows/bob/toggle", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCaptionEndpoint(t *testing.T) {
	stub := llm.Func(func(_ context.Context, _ domain.CaptionPrompt) (string, error) {
		return `{"caption":"Golden hour vibes ✨"}`, nil
	})
	env := newTestEnv(t, stub)

	body, err := json.Marshal(map[string]any{
		"media":            pngDataURI(t),
		"userProfile":      map[string]any{"username": "alice", "bio": "hi", "followerIds": []string{}, "followingIds": []string{}},
		"trendingKeywords": []string{"sunset"},
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/captions", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"caption":"Golden hour vibes ✨"}`, w.Body.String())
}

func TestCaptionEndpointErrors(t *testing.T) {
	bad := llm.Func(func(_ context.Context, _ domain.CaptionPrompt) (string, error) {
		return `{"text":"nope"}`, nil
	})
	env := newTestEnv(t, bad)

	w := env.do(t, http.MethodPost, "/api/captions", `{"trendingKeywords":["sunset"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/captions", `{"media":"`+pngDataURI(t)+`"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "try again")

	w = env.do(t, http.MethodPost, "/api/captions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFollowToggleAndList(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signIn(t, "alice")

	w := env.do(t, http.MethodPost, "/api/follows/bob/toggle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["following"])

	w = env.do(t, http.MethodPost, "/api/follows/alice/toggle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.session.Wait()

	w = env.do(t, http.MethodGet, "/api/follows", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Following []string `json:"following"`
		Mutations []struct {
			Target string `json:"target"`
			Status string `json:"status"`
		} `json:"mutations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"bob"}, resp.Following)
	require.Len(t, resp.Mutations, 1)
	assert.Equal(t, "confirmed", resp.Mutations[0].Status)
}

func TestPublishAndFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signIn(t, "alice")

	w := env.do(t, http.MethodPost, "/api/posts", `{"kind":"post","caption":"first","media_url":"https://cdn.example.com/a.jpg","media_type":"image/jpeg"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	firstID, _ := decode[map[string]any](t, w)["id"].(string)
	require.NotEmpty(t, firstID)

	w = env.do(t, http.MethodGet, "/api/posts/"+firstID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "first", decode[map[string]any](t, w)["caption"])

	w = env.do(t, http.MethodGet, "/api/posts/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/posts", `{"kind":"story","caption":"second","media_url":"https://cdn.example.com/b.jpg","media_type":"image/jpeg"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/feed?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var feedResp struct {
		Items []struct {
			Caption string `json:"caption"`
			Local   bool   `json:"local"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feedResp))
	require.Len(t, feedResp.Items, 2)
	assert.Equal(t, "second", feedResp.Items[0].Caption)
	assert.True(t, feedResp.Items[0].Local)

	w = env.do(t, http.MethodDelete, "/api/feed/local", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, env.session.LocalItems())

	w = env.do(t, http.MethodGet, "/api/feed?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/users/alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[map[string]any](t, w)["posts"], 2)

	w = env.do(t, http.MethodGet, "/api/users/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signIn(t, "alice")

	w := env.do(t, http.MethodPost, "/api/posts", `{"caption":"x","media_url":"ftp//nope","media_type":"image/jpeg"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "loading", snap["state"])

	env.auth.SignIn("alice")

	for snap["state"] != "authenticated" {
		require.NoError(t, conn.ReadJSON(&snap))
	}
	assert.Equal(t, "alice", snap["user_id"])

	env.session.AddLocalItem(domain.LocalFeedItem{Post: domain.Post{ID: "l1"}})
	for snap["local_items"] != float64(1) {
		require.NoError(t, conn.ReadJSON(&snap))
	}
}
