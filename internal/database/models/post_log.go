package models

import "time"

// PostLog stores information about one mirrored post on the destination.
type PostLog struct {
	SourceID    string    `bson:"source_id"`
	SourceURL   string    `bson:"source_url,omitempty"`
	TargetUser  string    `bson:"target_user"`
	Kind        string    `bson:"kind"` // "images", "video" or "text"
	Text        string    `bson:"text,omitempty"`
	PostURI     string    `bson:"post_uri"`
	PostCID     string    `bson:"post_cid,omitempty"`
	ReplyURI    string    `bson:"reply_uri,omitempty"` // translation reply, when one was made
	Images      int       `bson:"images"`
	Videos      int       `bson:"videos"`
	DetectedAt  time.Time `bson:"detected_at"`
	PublishedAt time.Time `bson:"published_at"`
}
