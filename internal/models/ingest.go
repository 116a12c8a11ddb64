package models

// Open messaging identifiers used on ingested messages.
const (
	PlatformOpen = "Open"
	IDTypeOpaque = "Opaque"
)

// Delivery receipt statuses.
const (
	ReceiptStatusDelivered = "Delivered"
	ReceiptStatusFailed    = "Failed"
)

// IngestMessage is one inbound message submitted to Genesys Cloud.
type IngestMessage struct {
	Channel Channel   `json:"channel"`
	Text    string    `json:"text"`
	Content []Content `json:"content,omitempty"`
}

// Content is an attachment of an ingested message.
type Content struct {
	ContentType string      `json:"contentType"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

// Attachment describes a media item by URL.
type Attachment struct {
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Mime      string `json:"mime,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// IngestResult is the ingestion response. Each entity echoes the submitted message id in
// Channel.MessageID and carries the assigned conversation message id in ID.
type IngestResult struct {
	Entities []IngestEntity `json:"entities"`
}

// IngestEntity is one correlated ingestion entry.
type IngestEntity struct {
	ID      string   `json:"id"`
	Channel *Channel `json:"channel,omitempty"`
}

// ExternalIDFor returns the assigned identifier correlated to messageID, if any.
func (r *IngestResult) ExternalIDFor(messageID string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, e := range r.Entities {
		if e.Channel != nil && e.Channel.MessageID == messageID && e.ID != "" {
			return e.ID, true
		}
	}
	return "", false
}

// DeliveryOutcome is the result of an outbound action, reported back as a delivery receipt.
type DeliveryOutcome struct {
	// MessageID is the Genesys Cloud message id from the webhook payload.
	MessageID string
	// Channel is the channel block of the webhook payload, echoed in the receipt.
	Channel *Channel
	// ResultID is the identifier of what was created on Bluesky, if anything.
	ResultID string
	Success  bool
	Error    string
}

// DeliveryReceipt is the open messaging receipt body.
type DeliveryReceipt struct {
	ID             string          `json:"id"`
	Channel        Channel         `json:"channel"`
	Status         string          `json:"status"`
	IsFinalReceipt bool            `json:"isFinalReceipt"`
	Reasons        []ReceiptReason `json:"reasons,omitempty"`
}

// ReceiptReason explains a failed receipt.
type ReceiptReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
