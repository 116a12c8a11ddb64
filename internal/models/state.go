package models

// ConversationState is the reconciliation record kept for every Bluesky post that has been
// ingested into Genesys Cloud. It is written once after a successful ingestion and never
// updated. The JSON field names match records written by earlier deployments.
type ConversationState struct {
	// ContentID is the post CID, required as the strong-ref token for like/repost/reply.
	ContentID string `json:"cid"`
	// ExternalConversationID is the identifier Genesys Cloud assigned on ingestion.
	ExternalConversationID string `json:"genesysConversationId"`
	// RootID is the URI of the thread root; equal to the post URI for top-level posts.
	RootID string `json:"rootUri"`
}

// StrongRef addresses a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef carries the thread linkage of a reply post.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}
