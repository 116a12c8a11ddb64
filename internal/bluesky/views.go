package bluesky

import (
	"encoding/json"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Embed view type tags.
const (
	embedImagesView          = "app.bsky.embed.images#view"
	embedRecordView          = "app.bsky.embed.record#view"
	embedExternalView        = "app.bsky.embed.external#view"
	embedRecordWithMediaView = "app.bsky.embed.recordWithMedia#view"
	embedViewRecord          = "app.bsky.embed.record#viewRecord"
)

type profileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

func (p profileView) toModel() models.Author {
	return models.Author{DID: p.DID, Handle: p.Handle, DisplayName: p.DisplayName, Avatar: p.Avatar}
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type postRecord struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type postView struct {
	URI       string          `json:"uri"`
	CID       string          `json:"cid"`
	Author    profileView     `json:"author"`
	Record    postRecord      `json:"record"`
	Embed     json.RawMessage `json:"embed,omitempty"`
	IndexedAt string          `json:"indexedAt"`
}

type embedView struct {
	Type   string `json:"$type"`
	Images []struct {
		Fullsize string `json:"fullsize"`
		Alt      string `json:"alt"`
	} `json:"images"`
	External *struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"external"`
	Record json.RawMessage `json:"record"`
	Media  json.RawMessage `json:"media"`
}

type viewRecord struct {
	Type   string      `json:"$type"`
	Author profileView `json:"author"`
	Value  postRecord  `json:"value"`
	// recordWithMedia nests the record view one level deeper.
	Record json.RawMessage `json:"record"`
}

func (v postView) toModel() models.Post {
	p := models.Post{
		URI:    v.URI,
		CID:    v.CID,
		Author: v.Author.toModel(),
		Text:   v.Record.Text,
		Embed:  decodeEmbed(v.Embed),
	}
	if t, err := time.Parse(time.RFC3339Nano, v.IndexedAt); err == nil {
		p.IndexedAt = t
	}
	if r := v.Record.Reply; r != nil {
		p.Reply = &models.ReplyRef{
			Root:   models.StrongRef{URI: r.Root.URI, CID: r.Root.CID},
			Parent: models.StrongRef{URI: r.Parent.URI, CID: r.Parent.CID},
		}
	}
	return p
}

// decodeEmbed maps an embed view onto models.Embed. Unknown or malformed embeds yield nil.
func decodeEmbed(raw json.RawMessage) *models.Embed {
	if len(raw) == 0 {
		return nil
	}
	var e embedView
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}
	switch e.Type {
	case embedImagesView:
		out := &models.Embed{Kind: models.EmbedImages}
		for _, img := range e.Images {
			out.Images = append(out.Images, models.EmbedImage{Fullsize: img.Fullsize, Alt: img.Alt})
		}
		return out
	case embedExternalView:
		if e.External == nil {
			return nil
		}
		return &models.Embed{Kind: models.EmbedExternal, External: &models.EmbedLink{
			URI: e.External.URI, Title: e.External.Title, Description: e.External.Description,
		}}
	case embedRecordView:
		return decodeQuote(e.Record)
	case embedRecordWithMediaView:
		if media := decodeEmbed(e.Media); media != nil {
			return media
		}
		var inner viewRecord
		if json.Unmarshal(e.Record, &inner) != nil {
			return nil
		}
		return decodeQuote(inner.Record)
	}
	return nil
}

func decodeQuote(raw json.RawMessage) *models.Embed {
	var rec viewRecord
	if len(raw) == 0 || json.Unmarshal(raw, &rec) != nil || rec.Type != embedViewRecord {
		return nil
	}
	return &models.Embed{Kind: models.EmbedQuote, Quote: &models.EmbedQuotePost{
		AuthorHandle: rec.Author.Handle,
		Text:         rec.Value.Text,
	}}
}
