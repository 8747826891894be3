package app

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Content kinds served behind the access gate.
const (
	ContentKindVideo       = "video"
	ContentKindAttachment  = "attachment"
	ContentKindQA          = "qa"
	ContentKindCertificate = "certificate"
)

// ContentLocation tells the client where to fetch a gated resource.
type ContentLocation struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// ContentResolver maps a gated resource to the location the content service serves it from.
// Callers must have passed the access gate first.
type ContentResolver interface {
	Resolve(courseID uuid.UUID, kind, resourceID string) (ContentLocation, error)
}

// StaticContentResolver builds locations under a fixed content base URL.
type StaticContentResolver struct {
	BaseURL string
}

func NewStaticContentResolver(baseURL string) *StaticContentResolver {
	return &StaticContentResolver{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

func (r *StaticContentResolver) Resolve(courseID uuid.UUID, kind, resourceID string) (ContentLocation, error) {
	segments := []string{"courses", courseID.String()}
	switch kind {
	case ContentKindVideo:
		segments = append(segments, "modules", url.PathEscape(resourceID), "video")
	case ContentKindAttachment:
		segments = append(segments, "assignments", url.PathEscape(resourceID), "attachment")
	case ContentKindQA:
		segments = append(segments, "qa")
	case ContentKindCertificate:
		segments = append(segments, "certificate")
	default:
		return ContentLocation{}, ErrUnknownContentKind
	}

	path := "/" + strings.Join(segments, "/")
	return ContentLocation{Kind: kind, URL: r.BaseURL + path}, nil
}
