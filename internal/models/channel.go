package models

import "strings"

// Channel types used by Genesys Cloud open messaging.
const (
	ChannelTypePrivate = "Private"
	ChannelTypePublic  = "Public"
)

// OutboundMessage is the webhook payload Genesys Cloud delivers for agent replies.
type OutboundMessage struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Channel *Channel `json:"channel,omitempty"`
}

// Channel is the channel block shared by webhook payloads, ingestion messages and receipts.
type Channel struct {
	ID                 string          `json:"id,omitempty"`
	Platform           string          `json:"platform,omitempty"`
	Type               string          `json:"type,omitempty"`
	MessageID          string          `json:"messageId,omitempty"`
	Time               string          `json:"time,omitempty"`
	To                 *Participant    `json:"to,omitempty"`
	From               *Participant    `json:"from,omitempty"`
	PublicMetadata     *PublicMetadata `json:"publicMetadata,omitempty"`
	InReplyToMessageID string          `json:"inReplyToMessageId,omitempty"`
}

// Participant is a sender or recipient in a channel block.
type Participant struct {
	ID        string `json:"id,omitempty"`
	IDType    string `json:"idType,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Image     string `json:"image,omitempty"`
}

// PublicMetadata carries the thread linkage of public social messages.
type PublicMetadata struct {
	RootID    string `json:"rootId,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// ChannelKind is the closed set of routes a webhook payload can take.
type ChannelKind int

const (
	// KindPublicRoot has no reply target and is not private; it is dropped.
	KindPublicRoot ChannelKind = iota
	// KindPublicReply targets an existing Bluesky post.
	KindPublicReply
	// KindPrivate is a direct message to a Bluesky account.
	KindPrivate
)

func (k ChannelKind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindPublicReply:
		return "public_reply"
	default:
		return "public_root"
	}
}

// Route is the classification of a webhook payload, computed once at ingress.
type Route struct {
	Kind ChannelKind
	// RecipientID is set for KindPrivate (may be empty if the payload omitted it).
	RecipientID string
	// TargetID is the Bluesky post URI the reply/command applies to, set for KindPublicReply.
	TargetID string
}

// Classify determines the route of a webhook payload. Private channels win over any reply
// metadata; publicMetadata.replyToId takes precedence over the legacy inReplyToMessageId.
func Classify(msg OutboundMessage) Route {
	ch := msg.Channel
	if ch == nil {
		return Route{Kind: KindPublicRoot}
	}
	if ch.Type == ChannelTypePrivate {
		r := Route{Kind: KindPrivate}
		if ch.To != nil {
			r.RecipientID = ch.To.ID
		}
		return r
	}
	target := ""
	if ch.PublicMetadata != nil {
		target = ch.PublicMetadata.ReplyToID
	}
	if target == "" {
		target = ch.InReplyToMessageID
	}
	if target == "" {
		return Route{Kind: KindPublicRoot}
	}
	return Route{Kind: KindPublicReply, TargetID: target}
}

// Command is the action requested by an agent reply on a public thread.
type Command int

const (
	CommandReply Command = iota
	CommandLike
	CommandRepost
)

func (c Command) String() string {
	switch c {
	case CommandLike:
		return "like"
	case CommandRepost:
		return "repost"
	default:
		return "reply"
	}
}

// ParseCommand maps trimmed reply text to a command. Anything that is not exactly
// "!like" or "!repost" is a plain reply.
func ParseCommand(text string) Command {
	switch strings.TrimSpace(text) {
	case "!like":
		return CommandLike
	case "!repost":
		return CommandRepost
	default:
		return CommandReply
	}
}
