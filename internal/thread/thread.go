// Package thread computes conversation roots and the reply linkage needed to
// thread outbound posts under an existing conversation.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/store"
)

var (
	// ErrMissingParentState is returned when the reply target was never ingested.
	ErrMissingParentState = errors.New("missing parent state")
	// ErrMissingRootState is returned when the parent is known but its root is not.
	ErrMissingRootState = errors.New("missing root state")
)

// RootID returns the identifier of the conversation root for post. The root
// supplied by the platform is trusted as is; parents are never walked.
func RootID(post models.Post) string {
	if post.Reply == nil || post.Reply.Root.URI == "" {
		return post.URI
	}
	return post.Reply.Root.URI
}

// StateFor builds the conversation state recorded once post has been ingested.
func StateFor(post models.Post, externalID string) models.ConversationState {
	return models.ConversationState{
		ContentID:              post.CID,
		ExternalConversationID: externalID,
		RootID:                 RootID(post),
	}
}

// Resolver answers threading questions from the state store only.
type Resolver struct {
	states store.StateStore
}

func NewResolver(states store.StateStore) *Resolver {
	return &Resolver{states: states}
}

// ParentRef returns the strong reference to parentID, needed by like and repost.
func (r *Resolver) ParentRef(ctx context.Context, parentID string) (models.StrongRef, error) {
	state, err := r.states.GetConversationState(ctx, parentID)
	if err != nil {
		return models.StrongRef{}, fmt.Errorf("lookup parent %s: %w", parentID, err)
	}
	if state == nil {
		return models.StrongRef{}, fmt.Errorf("%w: %s", ErrMissingParentState, parentID)
	}
	return models.StrongRef{URI: parentID, CID: state.ContentID}, nil
}

// ReplyLinkage resolves both parent and root references for a reply to parentID.
func (r *Resolver) ReplyLinkage(ctx context.Context, parentID string) (models.ReplyRef, error) {
	parentState, err := r.states.GetConversationState(ctx, parentID)
	if err != nil {
		return models.ReplyRef{}, fmt.Errorf("lookup parent %s: %w", parentID, err)
	}
	if parentState == nil {
		return models.ReplyRef{}, fmt.Errorf("%w: %s", ErrMissingParentState, parentID)
	}
	parent := models.StrongRef{URI: parentID, CID: parentState.ContentID}

	rootID := parentState.RootID
	if rootID == "" || rootID == parentID {
		return models.ReplyRef{Root: parent, Parent: parent}, nil
	}

	rootState, err := r.states.GetConversationState(ctx, rootID)
	if err != nil {
		return models.ReplyRef{}, fmt.Errorf("lookup root %s: %w", rootID, err)
	}
	if rootState == nil {
		slog.Warn("Resolver.ReplyLinkage: root state absent", "parent_uri", parentID, "root_uri", rootID)
		return models.ReplyRef{}, fmt.Errorf("%w: %s", ErrMissingRootState, rootID)
	}
	return models.ReplyRef{
		Root:   models.StrongRef{URI: rootID, CID: rootState.ContentID},
		Parent: parent,
	}, nil
}
