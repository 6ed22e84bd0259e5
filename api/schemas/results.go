package schemas

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// -- Extraction Result Schemas --

// ExtractionResult holds everything captured from one dashboard. Graphics and
// Tables stay nil when the corresponding extraction was skipped.
type ExtractionResult struct {
	Reference string            `json:"reference"`
	Title     string            `json:"title,omitempty"`
	Graphics  []GraphicArtifact `json:"graphs,omitempty"`
	Tables    []TableArtifact   `json:"tables,omitempty"`
	// Err is only set when the caller asked the batch to continue past failures.
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// GraphicArtifact is the portable image form of one rendered chart.
type GraphicArtifact struct {
	URI string `json:"uri"`
}

// Decode returns the media type and raw bytes of the artifact.
func (g GraphicArtifact) Decode() (string, []byte, error) {
	return DecodeDataURI(g.URI)
}

// TableArtifact is a rasterized pivot table and its best-effort caption.
type TableArtifact struct {
	Label string `json:"label"`
	URI   string `json:"uri"`
	// LabelError records why the caption could not be read, in partial label mode.
	LabelError string `json:"label_error,omitempty"`
}

// Decode returns the media type and raw bytes of the artifact.
func (t TableArtifact) Decode() (string, []byte, error) {
	return DecodeDataURI(t.URI)
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a data URI into media type and payload. Both base64
// and percent-encoded payloads are accepted.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI: missing payload separator")
	}

	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return mediaType, data, nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid percent-encoded payload: %w", err)
	}
	return mediaType, []byte(decoded), nil
}
