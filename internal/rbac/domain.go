package rbac

import (
	"context"

	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Permission describes a grantable right.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Grants is the live authorisation state of a user.
type Grants struct {
	Role   string
	Active bool
	Rights map[string]bool
}

// GrantSource loads the current grants of a user so rights changes apply
// without waiting for the bearer token to expire.
type GrantSource interface {
	Grants(ctx context.Context, userID int64) (Grants, error)
}

var catalog = map[string]string{
	shared.PermUsers:       "Manage users, rights and company settings",
	shared.PermInvoices:    "Create and manage invoices",
	shared.PermClients:     "Manage clients",
	shared.PermProducts:    "Manage articles and suppliers",
	shared.PermStock:       "Record stock movements and inventory counts",
	shared.PermReports:     "View dashboards and reports",
	shared.PermCreditNotes: "Manage credit notes",
	shared.PermPayments:    "Record and delete payments",
	shared.PermCounter:     "Operate the sales counter",
	shared.PermQuotes:      "Manage quotes",
}

// Permissions lists the catalog in declaration order.
func Permissions() []Permission {
	scopes := shared.CoreScopes()
	out := make([]Permission, 0, len(scopes))
	for _, name := range scopes {
		out = append(out, Permission{Name: name, Description: catalog[name]})
	}
	return out
}

// Known reports whether name is a declared right.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}
