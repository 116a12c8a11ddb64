package genesys

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// ExternalSourceBluesky tags the external id of contacts created by SkyRelay.
const ExternalSourceBluesky = "Bluesky"

type externalID struct {
	ExternalSource string `json:"externalSource"`
	Value          string `json:"value"`
}

type externalContact struct {
	ID          string       `json:"id,omitempty"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	ExternalIDs []externalID `json:"externalIds"`
}

type contactSearchResult struct {
	Entities []externalContact `json:"entities"`
}

// CreateOrUpdateExternalContact upserts the contact for a Bluesky DID: the
// first search hit is updated, otherwise a new contact is created.
func (c *Client) CreateOrUpdateExternalContact(ctx context.Context, did, displayName, handle string) error {
	name := displayName
	if name == "" {
		name = handle
	}
	contact := externalContact{
		FirstName:   name,
		ExternalIDs: []externalID{{ExternalSource: ExternalSourceBluesky, Value: did}},
	}

	var found contactSearchResult
	if err := c.do(ctx, "search external contacts", http.MethodGet,
		"/api/v2/externalcontacts/contacts?q="+url.QueryEscape(did), nil, &found); err != nil {
		return err
	}

	if len(found.Entities) > 0 && found.Entities[0].ID != "" {
		id := found.Entities[0].ID
		if err := c.do(ctx, "update external contact", http.MethodPut,
			"/api/v2/externalcontacts/contacts/"+url.PathEscape(id), contact, nil); err != nil {
			return err
		}
		slog.Info("Successfully updated external contact in Genesys Cloud", "contact_id", id, "did", did)
		return nil
	}

	if err := c.do(ctx, "create external contact", http.MethodPost,
		"/api/v2/externalcontacts/contacts", contact, nil); err != nil {
		return fmt.Errorf("create contact for %s: %w", did, err)
	}
	slog.Info("Successfully created external contact in Genesys Cloud", "did", did, "handle", handle)
	return nil
}
