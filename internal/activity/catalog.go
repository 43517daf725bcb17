package activity

import "fmt"

// descriptor holds the static catalog row for one event kind.
type descriptor struct {
	label    string
	category Category
	describe func(payload map[string]any) string
}

// kindCatalog maps each known event kind to its human label, category and
// renderer. The catalog is the single source of truth for kind→category
// resolution; the query engine and the stores both go through it.
var kindCatalog = map[Kind]descriptor{
	KindSessionStart: {
		label:    "Session started",
		category: CategorySession,
		describe: func(p map[string]any) string {
			if device, ok := p["device"].(string); ok && device != "" {
				return "signed in on " + device
			}
			return "signed in"
		},
	},
	KindSessionEnd: {
		label:    "Session ended",
		category: CategorySession,
		describe: func(p map[string]any) string {
			reason, _ := p["reason"].(string)
			switch SessionEndReason(reason) {
			case ReasonTimeout:
				return "session expired after inactivity"
			case ReasonWindowClosed:
				return "window closed"
			default:
				return "signed out"
			}
		},
	},
	KindLogin: {
		label:    "Login",
		category: CategorySession,
		describe: func(map[string]any) string { return "authenticated" },
	},
	KindLogout: {
		label:    "Logout",
		category: CategorySession,
		describe: func(map[string]any) string { return "requested sign-out" },
	},
	KindPageView: {
		label:    "Page view",
		category: CategoryNavigation,
		describe: func(p map[string]any) string {
			if path, ok := p["path"].(string); ok && path != "" {
				return "viewed " + path
			}
			return "viewed a page"
		},
	},
	KindDocumentCreated: {
		label:    "Document created",
		category: CategoryDocuments,
		describe: describeDocument("created"),
	},
	KindDocumentUpdated: {
		label:    "Document updated",
		category: CategoryDocuments,
		describe: describeDocument("updated"),
	},
	KindDocumentDeleted: {
		label:    "Document deleted",
		category: CategoryDocuments,
		describe: describeDocument("deleted"),
	},
	KindAttachmentUpload: {
		label:    "Attachment uploaded",
		category: CategoryDocuments,
		describe: func(p map[string]any) string {
			if name, ok := p["filename"].(string); ok && name != "" {
				return "uploaded " + name
			}
			return "uploaded an attachment"
		},
	},
	KindTemplateSelected: {
		label:    "Template selected",
		category: CategoryDocuments,
		describe: func(p map[string]any) string {
			if tmpl, ok := p["template"].(string); ok && tmpl != "" {
				return "opened template " + tmpl
			}
			return "opened a template"
		},
	},
	KindAccountCreated: {
		label:    "Account created",
		category: CategoryAccounts,
		describe: describeAccount("created account"),
	},
	KindAccountUpdated: {
		label:    "Account updated",
		category: CategoryAccounts,
		describe: describeAccount("updated account"),
	},
	KindAccountDeleted: {
		label:    "Account deleted",
		category: CategoryAccounts,
		describe: describeAccount("deleted account"),
	},
	KindLedgerAdjusted: {
		label:    "Ledger adjusted",
		category: CategoryFinance,
		describe: func(p map[string]any) string {
			amount, haveAmount := p["amount"]
			target, _ := p["account"].(string)
			switch {
			case haveAmount && target != "":
				return fmt.Sprintf("adjusted %s by %v", target, amount)
			case haveAmount:
				return fmt.Sprintf("adjusted ledger by %v", amount)
			default:
				return "adjusted the ledger"
			}
		},
	},
	KindAnnouncementPosted: {
		label:    "Announcement posted",
		category: CategorySystem,
		describe: func(p map[string]any) string {
			if title, ok := p["title"].(string); ok && title != "" {
				return "posted announcement: " + title
			}
			return "posted an announcement"
		},
	},
}

func describeDocument(verb string) func(map[string]any) string {
	return func(p map[string]any) string {
		if docID, ok := p["document_id"].(string); ok && docID != "" {
			return verb + " document " + docID
		}
		return verb + " a document"
	}
}

func describeAccount(verb string) func(map[string]any) string {
	return func(p map[string]any) string {
		if login, ok := p["login"].(string); ok && login != "" {
			return verb + " " + login
		}
		return verb
	}
}

// Label returns the human-readable name for a kind. Unknown kinds render as
// their raw tag so new agent versions stay legible in the reviewer UI.
func Label(k Kind) string {
	if d, ok := kindCatalog[k]; ok {
		return d.label
	}
	return string(k)
}

// CategoryOf resolves a kind to its category. Unknown kinds fall back to
// CategorySystem rather than failing so filtering stays total.
func CategoryOf(k Kind) Category {
	if d, ok := kindCatalog[k]; ok {
		return d.category
	}
	return CategorySystem
}

// Describe renders a one-line description of the event from its payload.
func Describe(k Kind, payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	if d, ok := kindCatalog[k]; ok {
		return d.describe(payload)
	}
	return string(k)
}

// Kinds returns all catalogued kinds for a category. Used by the reviewer
// query layer to validate that a kind filter is consistent with a category
// filter.
func Kinds(c Category) []Kind {
	var kinds []Kind
	for k, d := range kindCatalog {
		if d.category == c {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Belongs reports whether kind k resolves to category c.
func Belongs(k Kind, c Category) bool {
	return CategoryOf(k) == c
}

// Categories returns every catalogued category in display order.
func Categories() []Category {
	return []Category{
		CategorySession, CategoryNavigation, CategoryDocuments,
		CategoryAccounts, CategoryFinance, CategorySystem,
	}
}

// KnownCategory reports whether c is one of the catalogued categories.
func KnownCategory(c Category) bool {
	switch c {
	case CategorySession, CategoryNavigation, CategoryDocuments,
		CategoryAccounts, CategoryFinance, CategorySystem:
		return true
	}
	return false
}
