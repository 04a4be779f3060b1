// Package bluesky publishes posts to a Bluesky PDS through the indigo XRPC
// client and lexicon types.
package bluesky

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/ipfs/go-cid"
)

const (
	// DefaultHost is the main Bluesky PDS entryway.
	DefaultHost = "https://bsky.social"
	// MaxImagesPerPost is the app.bsky.embed.images limit.
	MaxImagesPerPost = 4
	// MaxPostGraphemes is the app.bsky.feed.post text limit.
	MaxPostGraphemes = 300

	postCollection = "app.bsky.feed.post"
)

// Blob is an uploaded blob reference, passed back verbatim in embeds.
type Blob struct {
	Type     string  `json:"$type"`
	Ref      BlobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size"`
}

// BlobRef is the CID link of a blob.
type BlobRef struct {
	Link string `json:"$link"`
}

// PostRef is a strong reference to a record.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (r PostRef) IsZero() bool { return r.URI == "" && r.CID == "" }

// ReplyRef threads a post under parent within root's thread.
type ReplyRef struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

// Image is one picture of an images embed.
type Image struct {
	Alt   string
	Image Blob
}

// Video is a single-video embed.
type Video struct {
	Alt   string
	Video Blob
}

// Embed holds either Images or Video.
type Embed struct {
	Images []Image
	Video  *Video
}

// Post is what SubmitPost publishes.
type Post struct {
	Text      string
	Embed     *Embed
	Reply     *ReplyRef
	Langs     []string
	CreatedAt time.Time
}

func blobFromLex(b *lexutil.LexBlob) (Blob, error) {
	if b == nil {
		return Blob{}, errors.New("upload blob: empty answer")
	}
	return Blob{
		Type:     "blob",
		Ref:      BlobRef{Link: cid.Cid(b.Ref).String()},
		MimeType: b.MimeType,
		Size:     b.Size,
	}, nil
}

func (b Blob) lex() (*lexutil.LexBlob, error) {
	c, err := cid.Decode(b.Ref.Link)
	if err != nil {
		return nil, fmt.Errorf("blob ref %q: %w", b.Ref.Link, err)
	}
	return &lexutil.LexBlob{Ref: lexutil.LexLink(c), MimeType: b.MimeType, Size: b.Size}, nil
}

func (r PostRef) strong() *atproto.RepoStrongRef {
	return &atproto.RepoStrongRef{Uri: r.URI, Cid: r.CID}
}

// record converts a Post into an app.bsky.feed.post record.
func (p Post) record(now time.Time) (*bsky.FeedPost, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	rec := &bsky.FeedPost{
		LexiconTypeID: postCollection,
		Text:          truncateText(p.Text, MaxPostGraphemes),
		CreatedAt:     created.UTC().Format(time.RFC3339Nano),
		Langs:         p.Langs,
	}
	if p.Reply != nil {
		rec.Reply = &bsky.FeedPost_ReplyRef{Root: p.Reply.Root.strong(), Parent: p.Reply.Parent.strong()}
	}
	if p.Embed == nil {
		return rec, nil
	}

	switch {
	case p.Embed.Video != nil && len(p.Embed.Images) > 0:
		return nil, errors.New("embed cannot carry images and a video")
	case p.Embed.Video != nil:
		blob, err := p.Embed.Video.Video.lex()
		if err != nil {
			return nil, err
		}
		video := &bsky.EmbedVideo{LexiconTypeID: "app.bsky.embed.video", Video: blob}
		if alt := p.Embed.Video.Alt; alt != "" {
			video.Alt = &alt
		}
		rec.Embed = &bsky.FeedPost_Embed{EmbedVideo: video}
	case len(p.Embed.Images) > MaxImagesPerPost:
		return nil, fmt.Errorf("embed carries %d images, limit is %d", len(p.Embed.Images), MaxImagesPerPost)
	case len(p.Embed.Images) > 0:
		images := make([]*bsky.EmbedImages_Image, 0, len(p.Embed.Images))
		for _, img := range p.Embed.Images {
			blob, err := img.Image.lex()
			if err != nil {
				return nil, err
			}
			images = append(images, &bsky.EmbedImages_Image{Alt: img.Alt, Image: blob})
		}
		rec.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{LexiconTypeID: "app.bsky.embed.images", Images: images},
		}
	}
	return rec, nil
}

// truncateText cuts s to at most limit runes, ending with an ellipsis when cut.
func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
