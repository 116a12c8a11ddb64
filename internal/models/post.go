package models

import "time"

// Notification reasons that carry conversational content.
const (
	NotificationReasonMention = "mention"
	NotificationReasonReply   = "reply"
)

// Author identifies the account that wrote a post or sent a message.
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Name returns the display name, falling back to the handle.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Handle
}

// Post is a hydrated Bluesky post view.
type Post struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	IndexedAt time.Time `json:"indexedAt"`
	// Reply is nil for top-level posts.
	Reply *ReplyRef `json:"reply,omitempty"`
	Embed *Embed    `json:"embed,omitempty"`
}

// IsReply reports whether the post carries reply metadata.
func (p Post) IsReply() bool {
	return p.Reply != nil
}

// Notification is a single entry of the bot account's notification feed.
type Notification struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid"`
	Reason    string    `json:"reason"`
	Author    Author    `json:"author"`
	IndexedAt time.Time `json:"indexedAt"`
}

// IsConversational reports whether the notification is a mention or a reply.
func (n Notification) IsConversational() bool {
	return n.Reason == NotificationReasonMention || n.Reason == NotificationReasonReply
}

// EmbedKind enumerates the embed variants SkyRelay renders.
type EmbedKind string

const (
	EmbedImages   EmbedKind = "images"
	EmbedQuote    EmbedKind = "quote"
	EmbedExternal EmbedKind = "external"
)

// Embed is a tagged record; only the fields of its Kind are populated.
type Embed struct {
	Kind     EmbedKind       `json:"kind"`
	Images   []EmbedImage    `json:"images,omitempty"`
	Quote    *EmbedQuotePost `json:"quote,omitempty"`
	External *EmbedLink      `json:"external,omitempty"`
}

// EmbedImage is one image of an images embed.
type EmbedImage struct {
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt,omitempty"`
}

// EmbedQuotePost is the quoted post of a record embed.
type EmbedQuotePost struct {
	AuthorHandle string `json:"authorHandle"`
	Text         string `json:"text"`
}

// EmbedLink is an external link card.
type EmbedLink struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// NotificationPage is one page of the notification feed.
type NotificationPage struct {
	Notifications []Notification
	// Cursor is the continuation token; empty when the feed has no further pages.
	Cursor string
}

// PostPage is one page of search results.
type PostPage struct {
	Posts  []Post
	Cursor string
}
