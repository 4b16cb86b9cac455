package shared

// RoleAdmin grants every right.
const RoleAdmin = "admin"

// User rights stored on each account.
const (
	PermUsers       = "gestion_utilisateurs"
	PermInvoices    = "gestion_factures"
	PermClients     = "gestion_clients"
	PermProducts    = "gestion_produits"
	PermStock       = "gestion_stock"
	PermReports     = "gestion_rapports"
	PermCreditNotes = "gestion_avoirs"
	PermPayments    = "gestion_reglements"
	PermCounter     = "gestion_comptoir"
	PermQuotes      = "gestion_devis"
)

// CoreScopes lists every right a user may be granted.
func CoreScopes() []string {
	return []string{
		PermUsers,
		PermInvoices,
		PermClients,
		PermProducts,
		PermStock,
		PermReports,
		PermCreditNotes,
		PermPayments,
		PermCounter,
		PermQuotes,
	}
}
