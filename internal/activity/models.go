package activity

// Kind identifies what happened. It is an open string enumeration: agents may
// emit kinds the catalog does not know yet, and the catalog renders those
// through its unknown-kind fallback.
type Kind string

const (
	// Session lifecycle
	KindSessionStart Kind = "session_start"
	KindSessionEnd   Kind = "session_end"
	KindLogin        Kind = "login"
	KindLogout       Kind = "logout"

	// Navigation
	KindPageView Kind = "page_view"

	// Documents and attachments
	KindDocumentCreated   Kind = "document_created"
	KindDocumentUpdated   Kind = "document_updated"
	KindDocumentDeleted   Kind = "document_deleted"
	KindAttachmentUpload  Kind = "attachment_uploaded"
	KindTemplateSelected  Kind = "template_selected"

	// Account management
	KindAccountCreated Kind = "account_created"
	KindAccountUpdated Kind = "account_updated"
	KindAccountDeleted Kind = "account_deleted"

	// Finance
	KindLedgerAdjusted Kind = "ledger_adjusted"

	// System
	KindAnnouncementPosted Kind = "announcement_posted"
)

// Category is a coarse grouping of event kinds used for reviewer filtering.
type Category string

const (
	CategorySession    Category = "session"
	CategoryNavigation Category = "navigation"
	CategoryDocuments  Category = "documents"
	CategoryAccounts   Category = "accounts"
	CategoryFinance    Category = "finance"
	CategorySystem     Category = "system"
)

// SessionEndReason tags why a session finished.
type SessionEndReason string

const (
	ReasonLogout       SessionEndReason = "logout"
	ReasonTimeout      SessionEndReason = "timeout"
	ReasonWindowClosed SessionEndReason = "window_closed"
)

// Event is one fact to be recorded, before enrichment. Payload is
// kind-specific key/value data; the catalog knows how to render it.
type Event struct {
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}
