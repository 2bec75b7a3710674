package caption

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/PabloGalante/instaflow/internal/domain"
)

const captionTemplate = `You are the caption assistant of a photo and video sharing app.
Write one caption for the attached {{.MediaKind}} that the person posting could publish as is.

Guidelines:
- Use the visual content only as implicit context. Do not name people, places, brands or objects you recognise in it.
- Keep it short and natural: at most two sentences, optionally followed by a few hashtags or emoji.
- Write in the first person, in the voice of the person posting.
{{- with .Profile}}

About the person posting (use this only to match tone and context, never copy it into the caption):
- Username: {{.Username}}
{{- if .Bio}}
- Bio: {{.Bio}}
{{- end}}
- Followers: {{len .FollowerIDs}}
- Following: {{len .FollowingIDs}}
{{- end}}
{{- if .Keywords}}

Trending keywords you may weave in when they fit naturally:
{{- range .Keywords}}
- {{.}}
{{- end}}
{{- end}}

Attachment: one {{.MediaType}} file.

Respond with JSON only, exactly in the form {"caption": "<caption text>"}.`

// parsed once; template.Must panics on startup if the template is malformed.
var captionTmpl = template.Must(template.New("caption").Parse(captionTemplate))

type promptData struct {
	MediaKind string
	MediaType string
	Profile   *domain.UserProfile
	Keywords  []string
}

// BuildPrompt renders the fixed caption instruction for req and attaches
// the media. The same request always renders the same text.
func BuildPrompt(req domain.CaptionRequest) (domain.CaptionPrompt, error) {
	var buf bytes.Buffer
	data := promptData{
		MediaKind: req.Media.Kind(),
		MediaType: req.Media.MIMEType,
		Profile:   req.UserProfile,
		Keywords:  req.TrendingKeywords,
	}
	if err := captionTmpl.Execute(&buf, data); err != nil {
		return domain.CaptionPrompt{}, fmt.Errorf("render caption prompt: %w", err)
	}

	return domain.CaptionPrompt{
		Instruction: buf.String(),
		Media:       req.Media,
	}, nil
}
