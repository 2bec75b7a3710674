package domain

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// supportedMedia lists the declared MIME types the caption model accepts.
var supportedMedia = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
	"image/gif":       {},
	"image/heic":      {},
	"video/mp4":       {},
	"video/quicktime": {},
	"video/webm":      {},
}

// MediaReference is a decoded, self-describing media payload.
// A zero value is "absent".
type MediaReference struct {
	MIMEType string
	Data     []byte
}

// IsZero reports whether no media was provided.
func (m MediaReference) IsZero() bool {
	return m.MIMEType == "" && len(m.Data) == 0
}

// Kind returns "image" or "video".
func (m MediaReference) Kind() string {
	kind, _, _ := strings.Cut(m.MIMEType, "/")
	return kind
}

// DataURI encodes the reference back into its wire form.
func (m MediaReference) DataURI() string {
	return "data:" + m.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// ParseMediaReference decodes a "data:<mime>;base64,<payload>" URI.
func ParseMediaReference(uri string) (MediaReference, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return MediaReference{}, &ValidationError{Field: "media", Reason: "is required"}
	}

	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return MediaReference{}, &ValidationError{Field: "media", Reason: "must be a data URI"}
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return MediaReference{}, &ValidationError{Field: "media", Reason: "missing payload separator"}
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || params[len(params)-1] != "base64" {
		return MediaReference{}, &ValidationError{Field: "media", Reason: "payload must be base64 encoded"}
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return MediaReference{}, &ValidationError{Field: "media", Reason: "invalid base64 payload"}
	}

	return NewMediaReference(params[0], data)
}

// NewMediaReference builds a validated reference from a declared type and raw bytes.
func NewMediaReference(mimeType string, data []byte) (MediaReference, error) {
	ref := MediaReference{
		MIMEType: strings.ToLower(strings.TrimSpace(mimeType)),
		Data:     data,
	}
	if err := ref.Validate(); err != nil {
		return MediaReference{}, err
	}
	// same kind but a different supported subtype: trust the bytes
	sniffed, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	if _, ok := supportedMedia[sniffed]; ok && sniffed != ref.MIMEType {
		ref.MIMEType = sniffed
	}
	return ref, nil
}

// Validate checks that the declared type is supported and that the bytes
// look like the same kind of media as declared.
func (m MediaReference) Validate() error {
	if m.MIMEType == "" {
		return &ValidationError{Field: "media", Reason: "missing media type"}
	}
	if _, ok := supportedMedia[m.MIMEType]; !ok {
		return &ValidationError{Field: "media", Reason: "unsupported media type " + m.MIMEType}
	}
	if len(m.Data) == 0 {
		return &ValidationError{Field: "media", Reason: "empty payload"}
	}

	detected := mimetype.Detect(m.Data)
	if detected.Is(m.MIMEType) {
		return nil
	}
	sniffedKind, _, _ := strings.Cut(detected.String(), "/")
	if sniffedKind != m.Kind() {
		return &ValidationError{
			Field:  "media",
			Reason: "declared " + m.MIMEType + " but content looks like " + detected.String(),
		}
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
