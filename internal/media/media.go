// Package media downloads the images and videos attached to a source post into
// cycle-scoped scratch files.
package media

import "fmt"

// Kind separates media that is embedded as a picture set from media that is
// embedded one per post.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool { return k == KindImage || k == KindVideo }

// Ref is a remote media item as reported by the enrichment API.
type Ref struct {
	URL  string
	Kind Kind
}

// Asset is a downloaded file. It lives only for the cycle that created it.
type Asset struct {
	Path     string
	Kind     Kind
	Size     int64
	MimeType string
	// Index is the position of the originating Ref in the input slice.
	Index int
}

func (a Asset) String() string {
	return fmt.Sprintf("%s#%d(%s, %d bytes)", a.Kind, a.Index, a.Path, a.Size)
}
