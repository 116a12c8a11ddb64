package bluesky

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

const (
	// DefaultDMTimeout bounds a whole chat fetch or send.
	DefaultDMTimeout = 30 * time.Second
	// chatProxy routes chat.bsky.* calls through the PDS to the chat service.
	chatProxy = "did:web:api.bsky.chat#bsky_chat"

	messageViewType = "chat.bsky.convo.defs#messageView"
)

type chatMember struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type convoView struct {
	ID      string       `json:"id"`
	Members []chatMember `json:"members"`
}

type listConvosResponse struct {
	Convos []convoView `json:"convos"`
	Cursor string      `json:"cursor"`
}

type messageView struct {
	Type   string `json:"$type"`
	ID     string `json:"id"`
	Text   string `json:"text"`
	Sender struct {
		DID string `json:"did"`
	} `json:"sender"`
	SentAt string `json:"sentAt"`
}

type getMessagesResponse struct {
	Messages []messageView `json:"messages"`
}

type getConvoForMembersResponse struct {
	Convo convoView `json:"convo"`
}

type sendMessageRequest struct {
	ConvoID string         `json:"convoId"`
	Message messageContent `json:"message"`
}

type messageContent struct {
	Text string `json:"text"`
}

func chatHeaders() http.Header {
	h := http.Header{}
	h.Set("atproto-proxy", chatProxy)
	return h
}

// FetchDirectMessages lists messages received since the given timestamp
// (RFC 3339; empty means all available history). Messages sent by the bot are skipped.
// Failures are reported both in the result and as an error.
func (c *Client) FetchDirectMessages(ctx context.Context, since string) (*models.DMFetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.dmTimeout)
	defer cancel()

	result, err := c.fetchDirectMessages(ctx, since)
	if err != nil {
		return &models.DMFetchResult{Success: false, Error: err.Error()}, err
	}
	return result, nil
}

func (c *Client) fetchDirectMessages(ctx context.Context, since string) (*models.DMFetchResult, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch direct messages: %w", err)
	}

	var sinceTime time.Time
	if since != "" {
		sinceTime, err = time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return nil, fmt.Errorf("parse since timestamp %q: %w", since, err)
		}
	}

	var convos []convoView
	cursor := ""
	for {
		q := url.Values{"limit": {"100"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp listConvosResponse
		if err := c.call(ctx, "list convos", http.MethodGet, "chat.bsky.convo.listConvos", q, nil, &resp, chatHeaders()); err != nil {
			return nil, err
		}
		convos = append(convos, resp.Convos...)
		if resp.Cursor == "" || resp.Cursor == cursor || len(resp.Convos) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	result := &models.DMFetchResult{Success: true, BotDID: s.DID, TotalConversations: len(convos)}
	for _, convo := range convos {
		var resp getMessagesResponse
		q := url.Values{"convoId": {convo.ID}}
		if err := c.call(ctx, "get messages", http.MethodGet, "chat.bsky.convo.getMessages", q, nil, &resp, chatHeaders()); err != nil {
			return nil, err
		}

		members := make([]string, 0, len(convo.Members))
		byDID := make(map[string]chatMember, len(convo.Members))
		for _, m := range convo.Members {
			members = append(members, m.DID)
			byDID[m.DID] = m
		}

		for _, m := range resp.Messages {
			if m.Type != "" && m.Type != messageViewType {
				continue
			}
			if m.Sender.DID == s.DID {
				continue
			}
			if !sinceTime.IsZero() {
				sent, err := time.Parse(time.RFC3339Nano, m.SentAt)
				if err != nil {
					slog.Warn("Client.FetchDirectMessages: unparseable sentAt, skipping", "message_id", m.ID, "sent_at", m.SentAt)
					continue
				}
				if !sent.After(sinceTime) {
					continue
				}
			}
			sender := byDID[m.Sender.DID]
			result.Messages = append(result.Messages, models.DirectMessage{
				ID:                  m.ID,
				ConvoID:             convo.ID,
				SenderDID:           m.Sender.DID,
				SenderHandle:        sender.Handle,
				SenderDisplayName:   sender.DisplayName,
				Text:                m.Text,
				SentAt:              m.SentAt,
				ConversationMembers: members,
			})
		}
	}
	result.NewMessageCount = len(result.Messages)
	slog.Debug("Client.FetchDirectMessages: fetched", "conversations", result.TotalConversations, "new", result.NewMessageCount)
	return result, nil
}

// SendDirectMessage delivers text to recipientDID, opening a conversation if needed.
func (c *Client) SendDirectMessage(ctx context.Context, text, recipientDID string) (*models.DMSendResult, error) {
	if recipientDID == "" {
		return nil, fmt.Errorf("send direct message: recipient is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.dmTimeout)
	defer cancel()

	s, err := c.ensureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("send direct message: %w", err)
	}

	var convo getConvoForMembersResponse
	q := url.Values{"members": {s.DID, recipientDID}}
	if err := c.call(ctx, "get convo for members", http.MethodGet, "chat.bsky.convo.getConvoForMembers", q, nil, &convo, chatHeaders()); err != nil {
		return nil, err
	}

	var sent messageView
	req := sendMessageRequest{ConvoID: convo.Convo.ID, Message: messageContent{Text: text}}
	if err := c.call(ctx, "send message", http.MethodPost, "chat.bsky.convo.sendMessage", nil, req, &sent, chatHeaders()); err != nil {
		return nil, err
	}
	slog.Info("Successfully sent direct message", "convo_id", convo.Convo.ID, "message_id", sent.ID)
	return &models.DMSendResult{ConvoID: convo.Convo.ID, MessageID: sent.ID, SentAt: sent.SentAt}, nil
}
