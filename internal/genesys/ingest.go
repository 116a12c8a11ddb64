package genesys

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// ReceiptReasonGeneralError is the reason code attached to failed receipts.
const ReceiptReasonGeneralError = "GeneralError"

// IngestMessages submits a batch to the configured open data ingestion rule.
func (c *Client) IngestMessages(ctx context.Context, batch []models.IngestMessage) (*models.IngestResult, error) {
	if c.topicID == "" || c.ruleID == "" {
		return nil, fmt.Errorf("genesys social topic or rule id not configured")
	}
	if len(batch) == 0 {
		return &models.IngestResult{}, nil
	}
	path := fmt.Sprintf("/api/v2/socialmedia/topics/%s/dataingestionrules/open/%s/messages/bulk",
		url.PathEscape(c.topicID), url.PathEscape(c.ruleID))

	var result models.IngestResult
	if err := c.do(ctx, "ingest messages", http.MethodPost, path, batch, &result); err != nil {
		slog.Error("Client.IngestMessages: failed", "count", len(batch), "error", err)
		return nil, err
	}
	slog.Info("Successfully ingested messages into Genesys Cloud", "count", len(batch), "entities", len(result.Entities))
	return &result, nil
}

// BuildReceipt shapes an outcome as an open messaging receipt.
func BuildReceipt(outcome models.DeliveryOutcome, now time.Time) models.DeliveryReceipt {
	ch := models.Channel{
		MessageID: outcome.ResultID,
		Time:      now.UTC().Format(time.RFC3339Nano),
	}
	if src := outcome.Channel; src != nil {
		ch.ID = src.ID
		ch.Platform = src.Platform
		ch.Type = src.Type
		ch.To = src.To
		ch.From = src.From
	}
	if ch.Platform == "" {
		ch.Platform = models.PlatformOpen
	}

	r := models.DeliveryReceipt{
		ID:             outcome.MessageID,
		Channel:        ch,
		Status:         models.ReceiptStatusDelivered,
		IsFinalReceipt: true,
	}
	if !outcome.Success {
		r.Status = models.ReceiptStatusFailed
		r.Reasons = []models.ReceiptReason{{Code: ReceiptReasonGeneralError, Message: outcome.Error}}
	}
	return r
}

// SendDeliveryReceipt reports the outcome of an outbound action.
func (c *Client) SendDeliveryReceipt(ctx context.Context, outcome models.DeliveryOutcome) error {
	if c.integrationID == "" {
		return fmt.Errorf("genesys integration id not configured")
	}
	receipt := BuildReceipt(outcome, time.Now())
	path := fmt.Sprintf("/api/v2/conversations/messages/%s/inbound/open/receipt", url.PathEscape(c.integrationID))
	if err := c.do(ctx, "send delivery receipt", http.MethodPost, path, receipt, nil); err != nil {
		return err
	}
	slog.Info("Successfully sent delivery receipt to Genesys Cloud", "message_id", outcome.MessageID, "status", receipt.Status)
	return nil
}
