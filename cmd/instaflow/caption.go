package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/instaflow/internal/app/caption"
	"github.com/PabloGalante/instaflow/internal/domain"
)

var (
	captionUsername string
	captionBio      string
	captionKeywords []string
	captionTimeout  time.Duration
)

// newCaptionModel is swapped in tests.
var newCaptionModel = buildModel

var captionCmd = &cobra.Command{
	Use:   "caption <media-file>",
	Short: "Generate a caption for one image or video",
	Long: `Runs the caption pipeline once against the configured model and prints
the JSON response. The media type is detected from the file contents.`,
	Example: `  instaflow caption beach.jpg --keyword sunset --keyword summer
  instaflow caption reel.mp4 --username alice --bio "coffee & film cameras"`,
	Args: cobra.ExactArgs(1),
	RunE: runCaption,
}

func init() {
	captionCmd.Flags().StringVar(&captionUsername, "username", "", "Username of the person posting")
	captionCmd.Flags().StringVar(&captionBio, "bio", "", "Bio of the person posting")
	captionCmd.Flags().StringArrayVarP(&captionKeywords, "keyword", "k", nil, "Trending keyword (repeatable)")
	captionCmd.Flags().DurationVar(&captionTimeout, "timeout", 0, "Model call timeout (0 waits for the model)")
}

func runCaption(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	mimeType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	media, err := domain.NewMediaReference(mimeType, data)
	if err != nil {
		return err
	}

	req := domain.CaptionRequest{
		Media:            media,
		TrendingKeywords: captionKeywords,
	}
	if captionUsername != "" || captionBio != "" {
		req.UserProfile = &domain.UserProfile{
			Username:     captionUsername,
			Bio:          captionBio,
			FollowerIDs:  []string{},
			FollowingIDs: []string{},
		}
	}

	ctx := cmd.Context()
	if captionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, captionTimeout)
		defer cancel()
	}

	model, err := newCaptionModel(ctx, cfg)
	if err != nil {
		return err
	}

	resp, err := caption.NewService(model).Generate(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}
