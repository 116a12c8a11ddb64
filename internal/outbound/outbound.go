// Package outbound interprets agent replies delivered by the Genesys Cloud
// webhook and carries them out on Bluesky.
//
// Every acted-on payload ends with exactly one delivery receipt. Duplicate
// deliveries and payloads without a reply target are acknowledged and dropped.
package outbound

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/SkyRelay/internal/dedup"
	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/thread"
)

// ErrMissingRecipient is reported when a private payload has no channel.to.id.
var ErrMissingRecipient = errors.New("missing direct message recipient")

// Social is the set of Bluesky actions the interpreter can take.
type Social interface {
	Post(ctx context.Context, text string, reply *models.ReplyRef) (models.StrongRef, error)
	Like(ctx context.Context, uri, cid string) (models.StrongRef, error)
	Repost(ctx context.Context, uri, cid string) (models.StrongRef, error)
	SendDirectMessage(ctx context.Context, text, recipientDID string) (*models.DMSendResult, error)
}

// ReceiptSender reports action outcomes back to the contact center.
type ReceiptSender interface {
	SendDeliveryReceipt(ctx context.Context, outcome models.DeliveryOutcome) error
}

// Result describes what Handle did with a payload.
type Result struct {
	Duplicate bool
	Route     models.Route
	Command   models.Command
	// Outcome is nil when no action was taken.
	Outcome *models.DeliveryOutcome
}

// Interpreter dispatches webhook payloads.
type Interpreter struct {
	social   Social
	receipts ReceiptSender
	guard    *dedup.Guard
	resolver *thread.Resolver
}

func NewInterpreter(social Social, receipts ReceiptSender, guard *dedup.Guard, resolver *thread.Resolver) *Interpreter {
	return &Interpreter{social: social, receipts: receipts, guard: guard, resolver: resolver}
}

// Handle processes one verified webhook payload. It never returns an error;
// failures are reported through the delivery receipt.
func (in *Interpreter) Handle(ctx context.Context, msg models.OutboundMessage) Result {
	log := slog.With("delivery_id", msg.ID)

	if !in.guard.MarkProcessing(ctx, msg.ID) {
		log.Info("Interpreter.Handle: duplicate delivery, ignoring")
		return Result{Duplicate: true}
	}

	route := models.Classify(msg)
	res := Result{Route: route}
	log = log.With("route", route.Kind.String())

	var outcome models.DeliveryOutcome
	switch route.Kind {
	case models.KindPrivate:
		outcome = in.directMessage(ctx, msg, route)
	case models.KindPublicReply:
		res.Command = models.ParseCommand(msg.Text)
		log = log.With("command", res.Command.String(), "target_uri", route.TargetID)
		outcome = in.publicReply(ctx, msg, route, res.Command)
	default:
		log.Warn("Interpreter.Handle: ignoring message without reply information")
		return res
	}

	if outcome.Success {
		log.Info("Interpreter.Handle: outbound message processed", "result_id", outcome.ResultID)
	} else {
		log.Error("Interpreter.Handle: outbound message failed", "error", outcome.Error)
	}
	if err := in.receipts.SendDeliveryReceipt(ctx, outcome); err != nil {
		log.Error("Interpreter.Handle: failed to send delivery receipt", "error", err)
	}
	res.Outcome = &outcome
	return res
}

func (in *Interpreter) directMessage(ctx context.Context, msg models.OutboundMessage, route models.Route) models.DeliveryOutcome {
	if route.RecipientID == "" {
		return failed(msg, ErrMissingRecipient)
	}
	sent, err := in.social.SendDirectMessage(ctx, msg.Text, route.RecipientID)
	if err != nil {
		return failed(msg, err)
	}
	return succeeded(msg, sent.MessageID)
}

func (in *Interpreter) publicReply(ctx context.Context, msg models.OutboundMessage, route models.Route, cmd models.Command) models.DeliveryOutcome {
	switch cmd {
	case models.CommandLike, models.CommandRepost:
		parent, err := in.resolver.ParentRef(ctx, route.TargetID)
		if err != nil {
			return failed(msg, err)
		}
		act := in.social.Like
		if cmd == models.CommandRepost {
			act = in.social.Repost
		}
		created, err := act(ctx, parent.URI, parent.CID)
		if err != nil {
			return failed(msg, err)
		}
		return succeeded(msg, created.URI)
	default:
		linkage, err := in.resolver.ReplyLinkage(ctx, route.TargetID)
		if err != nil {
			return failed(msg, err)
		}
		created, err := in.social.Post(ctx, msg.Text, &linkage)
		if err != nil {
			return failed(msg, err)
		}
		return succeeded(msg, created.URI)
	}
}

func succeeded(msg models.OutboundMessage, resultID string) models.DeliveryOutcome {
	return models.DeliveryOutcome{MessageID: msg.ID, Channel: msg.Channel, ResultID: resultID, Success: true}
}

func failed(msg models.OutboundMessage, err error) models.DeliveryOutcome {
	return models.DeliveryOutcome{MessageID: msg.ID, Channel: msg.Channel, Success: false, Error: err.Error()}
}
