package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/instaflow/internal/adapters/llm"
	"github.com/PabloGalante/instaflow/internal/config"
	"github.com/PabloGalante/instaflow/internal/domain"
)

func writePNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestCaptionCmdWithMockModel(t *testing.T) {
	cfg = config.Default()
	captionTimeout = 0
	captionUsername, captionBio = "alice", "hi"
	captionKeywords = []string{"sunset"}
	defer func() {
		captionUsername, captionBio, captionKeywords = "", "", nil
	}()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	require.NoError(t, runCaption(cmd, []string{writePNG(t)}))

	var resp domain.CaptionResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Contains(t, resp.Caption, "image")
}

func TestCaptionCmdHasNoDefaultDeadline(t *testing.T) {
	flag := captionCmd.Flags().Lookup("timeout")
	require.NotNil(t, flag)
	assert.Equal(t, "0s", flag.DefValue)

	cfg = config.Default()
	captionTimeout = 0

	var hadDeadline bool
	newCaptionModel = func(context.Context, *config.Config) (domain.CaptionModel, error) {
		return llm.Func(func(ctx context.Context, _ domain.CaptionPrompt) (string, error) {
			_, hadDeadline = ctx.Deadline()
			return `{"caption":"Golden hour vibes"}`, nil
		}), nil
	}
	defer func() { newCaptionModel = buildModel }()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	require.NoError(t, runCaption(cmd, []string{writePNG(t)}))
	assert.False(t, hadDeadline)

	captionTimeout = time.Minute
	defer func() { captionTimeout = 0 }()
	require.NoError(t, runCaption(cmd, []string{writePNG(t)}))
	assert.True(t, hadDeadline)
}

func TestCaptionCmdRejectsUnsupportedFile(t *testing.T) {
	cfg = config.Default()
	captionTimeout = time.Minute

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o600))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	err := runCaption(cmd, []string{path})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestBuildStoresSQLite(t *testing.T) {
	c := config.Default()
	c.Storage.Backend = "sqlite"
	c.Storage.SQLitePath = filepath.Join(t.TempDir(), "feed.db")

	st, err := buildStores(context.Background(), c)
	require.NoError(t, err)
	defer st.close()

	require.NoError(t, st.follows.SetFollow(context.Background(), "alice", "bob", true))
	following, err := st.follows.ListFollowing(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, following)
}
