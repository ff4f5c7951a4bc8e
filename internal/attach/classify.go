package attach

import "strings"

// Kind buckets an attachment for rendering.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

// Classify maps a media type to a render kind by prefix match.
// Anything unrecognized renders as a plain download link.
func Classify(mediaType string) Kind {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}
