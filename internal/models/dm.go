package models

// DirectMessage is a chat message received by the bot account.
type DirectMessage struct {
	ID                  string   `json:"id"`
	ConvoID             string   `json:"convo_id"`
	SenderDID           string   `json:"sender_did"`
	SenderHandle        string   `json:"sender_handle"`
	SenderDisplayName   string   `json:"sender_display_name"`
	Text                string   `json:"text"`
	SentAt              string   `json:"sent_at"`
	ConversationMembers []string `json:"conversation_members"`
}

// DMFetchResult is the outcome of one direct-message fetch.
type DMFetchResult struct {
	Success            bool            `json:"success"`
	Error              string          `json:"error,omitempty"`
	Messages           []DirectMessage `json:"messages"`
	NewMessageCount    int             `json:"new_message_count"`
	TotalConversations int             `json:"total_conversations"`
	BotDID             string          `json:"bot_did"`
}

// DMSendResult is the outcome of sending a direct message.
type DMSendResult struct {
	ConvoID   string `json:"convo_id"`
	MessageID string `json:"message_id"`
	SentAt    string `json:"sent_at"`
}
