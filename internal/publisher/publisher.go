// Package publisher turns normalized text and downloaded media into posts on
// the destination platform, optionally followed by a translated reply.
package publisher

import (
	"context"
	"fmt"
	"os"
	"strings"

	"skymirror/internal/bluesky"
	"skymirror/internal/locales"
	"skymirror/internal/media"
	"skymirror/internal/observe"
)

const (
	imageAlt = "Tweet image"
	videoAlt = "Tweet video"
)

// Destination is the subset of the Bluesky client the publisher needs.
type Destination interface {
	UploadBlob(ctx context.Context, data []byte, mimeType string) (bluesky.Blob, error)
	SubmitPost(ctx context.Context, post bluesky.Post) (bluesky.PostRef, error)
}

// Translator translates text; "" means no translation is available.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// TranslationConfig selects the language pair of reply posts.
type TranslationConfig struct {
	From string
	To   string
}

// PostObserver is told about every submitted post.
type PostObserver interface {
	ObservePost(kind Kind, ok bool)
}

// Kind labels a submitted post.
type Kind string

const (
	KindImages      Kind = "images"
	KindVideo       Kind = "video"
	KindText        Kind = "text"
	KindTranslation Kind = "translation"
)

// Published is one primary post and, when translation ran, its reply.
type Published struct {
	Kind  Kind
	Ref   bluesky.PostRef
	Reply *bluesky.PostRef
}

// Result summarises a Publish call. It is never persisted.
type Result struct {
	Posts []Published
	// Failures counts uploads and submissions that did not go through.
	Failures int
}

// OK reports whether at least one primary post was created.
func (r Result) OK() bool { return len(r.Posts) > 0 }

// Publisher applies the media posting policy.
type Publisher struct {
	dest        Destination
	translator  Translator
	translation *TranslationConfig
	observer    PostObserver
	readFile    func(string) ([]byte, error)
	log         observe.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTranslation enables reply translations.
func WithTranslation(t Translator, cfg TranslationConfig) Option {
	return func(p *Publisher) {
		if t == nil {
			return
		}
		p.translator = t
		p.translation = &cfg
	}
}

// WithObserver attaches a post observer.
func WithObserver(o PostObserver) Option {
	return func(p *Publisher) { p.observer = o }
}

// New creates a Publisher.
func New(dest Destination, sink observe.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		dest:     dest,
		readFile: os.ReadFile,
		log:      observe.NewLogger(sink, "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish posts text with the given media:
//   - all successfully uploaded images go into ONE post;
//   - every successfully uploaded video gets its own post;
//   - when nothing was uploaded, a single text-only post is made.
//
// A failure on one item is logged and never stops the others.
func (p *Publisher) Publish(ctx context.Context, text string, images, videos []media.Asset) Result {
	var res Result
	uploaded := 0

	if len(images) > 0 {
		blobs := p.uploadImages(ctx, images, &res)
		uploaded += len(blobs)
		if len(blobs) > 0 {
			embed := &bluesky.Embed{Images: blobs}
			p.submit(ctx, KindImages, bluesky.Post{Text: text, Embed: embed, Langs: p.sourceLangs()}, text, &res)
		}
	}

	for _, v := range videos {
		blob, err := p.upload(ctx, v)
		if err != nil {
			res.Failures++
			p.log.WarnErr(err, "Video upload failed, skipping", "path", v.Path)
			continue
		}
		uploaded++
		embed := &bluesky.Embed{Video: &bluesky.Video{Alt: videoAlt, Video: blob}}
		p.submit(ctx, KindVideo, bluesky.Post{Text: text, Embed: embed, Langs: p.sourceLangs()}, text, &res)
	}

	if uploaded == 0 {
		// Bluesky rejects a post with neither text nor embed.
		if strings.TrimSpace(text) == "" {
			p.log.Warn("Nothing to publish: no text and no uploaded media")
			return res
		}
		p.submit(ctx, KindText, bluesky.Post{Text: text, Langs: p.sourceLangs()}, text, &res)
	}
	return res
}

func (p *Publisher) uploadImages(ctx context.Context, images []media.Asset, res *Result) []bluesky.Image {
	if len(images) > bluesky.MaxImagesPerPost {
		p.log.Warn("Too many images for one post, extra images dropped",
			"images", len(images), "limit", bluesky.MaxImagesPerPost)
		images = images[:bluesky.MaxImagesPerPost]
	}
	blobs := make([]bluesky.Image, 0, len(images))
	for _, img := range images {
		blob, err := p.upload(ctx, img)
		if err != nil {
			res.Failures++
			p.log.WarnErr(err, "Image upload failed, skipping", "path", img.Path)
			continue
		}
		blobs = append(blobs, bluesky.Image{Alt: imageAlt, Image: blob})
	}
	return blobs
}

func (p *Publisher) upload(ctx context.Context, a media.Asset) (bluesky.Blob, error) {
	data, err := p.readFile(a.Path)
	if err != nil {
		return bluesky.Blob{}, fmt.Errorf("read %s: %w", a.Path, err)
	}
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	blob, err := p.dest.UploadBlob(ctx, data, mimeType)
	if err != nil {
		return bluesky.Blob{}, err
	}
	p.log.Info("Uploaded media", "path", a.Path, "kind", string(a.Kind), "bytes", len(data))
	return blob, nil
}

// submit sends a primary post and, on success, its translated reply.
func (p *Publisher) submit(ctx context.Context, kind Kind, post bluesky.Post, text string, res *Result) {
	ref, err := p.dest.SubmitPost(ctx, post)
	p.observe(kind, err == nil)
	if err != nil {
		res.Failures++
		p.log.Error(err, "Post submission failed", "kind", string(kind))
		return
	}
	p.log.Info("Posted", "kind", string(kind), "uri", ref.URI)

	published := Published{Kind: kind, Ref: ref}
	if reply, ok := p.replyWithTranslation(ctx, ref, text); ok {
		published.Reply = &reply
	}
	res.Posts = append(res.Posts, published)
}

// replyWithTranslation threads the translated text directly under parent.
// Every failure here is non-fatal: the primary post already exists.
func (p *Publisher) replyWithTranslation(ctx context.Context, parent bluesky.PostRef, text string) (bluesky.PostRef, bool) {
	if p.translator == nil || p.translation == nil || strings.TrimSpace(text) == "" {
		return bluesky.PostRef{}, false
	}
	cfg := p.translation

	translated, err := p.translator.Translate(ctx, text, cfg.From, cfg.To)
	if err != nil {
		p.log.WarnErr(err, "Translation failed, reply skipped", "from", cfg.From, "to", cfg.To)
		return bluesky.PostRef{}, false
	}
	if strings.TrimSpace(translated) == "" {
		p.log.Info("Translation empty, reply skipped")
		return bluesky.PostRef{}, false
	}

	prefix := locales.Message(cfg.To, "MsgTranslationPrefix", nil)
	reply := bluesky.Post{
		Text:  prefix + " " + translated,
		Reply: &bluesky.ReplyRef{Root: parent, Parent: parent},
		Langs: []string{cfg.To},
	}
	ref, err := p.dest.SubmitPost(ctx, reply)
	p.observe(KindTranslation, err == nil)
	if err != nil {
		p.log.WarnErr(err, "Translation reply failed", "parent", parent.URI)
		return bluesky.PostRef{}, false
	}
	p.log.Info("Posted translation reply", "uri", ref.URI, "parent", parent.URI)
	return ref, true
}

func (p *Publisher) sourceLangs() []string {
	if p.translation == nil || p.translation.From == "" {
		return nil
	}
	return []string{p.translation.From}
}

func (p *Publisher) observe(kind Kind, ok bool) {
	if p.observer != nil {
		p.observer.ObservePost(kind, ok)
	}
}
