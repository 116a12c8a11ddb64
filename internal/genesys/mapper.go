package genesys

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Attachment defaults for image embeds. Bluesky views do not expose the blob mime type.
const (
	defaultImageMime     = "image/jpeg"
	defaultImageFilename = "image.jpg"
)

// FromPost converts a Bluesky post into an open-social ingestion message.
// The message id is the post URI, which the ingestion response echoes back.
func FromPost(post models.Post) models.IngestMessage {
	meta := &models.PublicMetadata{RootID: post.URI}
	if post.Reply != nil {
		if post.Reply.Root.URI != "" {
			meta.RootID = post.Reply.Root.URI
		}
		meta.ReplyToID = post.Reply.Parent.URI
	}

	msg := models.IngestMessage{
		Channel: models.Channel{
			MessageID: post.URI,
			From: &models.Participant{
				Nickname:  post.Author.Handle,
				ID:        post.Author.DID,
				IDType:    models.IDTypeOpaque,
				Image:     post.Author.Avatar,
				FirstName: post.Author.DisplayName,
			},
			Time:           formatTime(post.IndexedAt),
			PublicMetadata: meta,
		},
		Text: post.Text,
	}

	if e := post.Embed; e != nil {
		switch e.Kind {
		case models.EmbedImages:
			for _, img := range e.Images {
				name := img.Alt
				if name == "" {
					name = defaultImageFilename
				}
				msg.Content = append(msg.Content, models.Content{
					ContentType: "Attachment",
					Attachment: &models.Attachment{
						MediaType: "Image",
						URL:       img.Fullsize,
						Mime:      defaultImageMime,
						Filename:  name,
					},
				})
			}
		case models.EmbedQuote:
			if q := e.Quote; q != nil {
				msg.Text += fmt.Sprintf("\n\n[Quote Post by @%s]\n%s", q.AuthorHandle, q.Text)
			}
		case models.EmbedExternal:
			if l := e.External; l != nil {
				msg.Text += fmt.Sprintf("\n\n[External Link]\nTitle: %s\nDescription: %s\nURL: %s", l.Title, l.Description, l.URI)
			}
		}
	}
	return msg
}

// FromDirectMessage converts a chat message into a private open-messaging message.
func FromDirectMessage(dm models.DirectMessage, botDID string) models.IngestMessage {
	nickname := dm.SenderHandle
	if nickname == "" {
		nickname = dm.SenderDID
	}
	firstName := dm.SenderDisplayName
	if strings.TrimSpace(firstName) == "" {
		firstName = dm.SenderHandle
	}
	return models.IngestMessage{
		Channel: models.Channel{
			MessageID: dm.ID,
			Platform:  models.PlatformOpen,
			Type:      models.ChannelTypePrivate,
			From: &models.Participant{
				Nickname:  nickname,
				ID:        dm.SenderDID,
				IDType:    models.IDTypeOpaque,
				FirstName: firstName,
			},
			To: &models.Participant{
				ID:     botDID,
				IDType: models.IDTypeOpaque,
			},
			Time: dm.SentAt,
			PublicMetadata: &models.PublicMetadata{
				RootID:    dm.ConvoID,
				ReplyToID: dm.ID,
			},
		},
		Text: dm.Text,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}
