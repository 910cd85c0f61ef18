// Package coop holds the static catalog of database objects the REST facade
// is allowed to touch: tables, views and stored routines of the cooperative
// schema. Nothing outside this catalog is ever interpolated into SQL.
package coop

import (
	"slices"
	"strings"
)

// Tables is the allow-list for the generic /data/{table} endpoints.
var Tables = []string{
	"budynek",
	"mieszkanie",
	"czlonek",
	"pracownik",
	"naprawa",
	"uslugi",
	"oplata",
	"umowa",
	"konto_spoldzielni",
	"spotkanie_mieszkancow",
}

// StatTables are counted by policz_rekordy for the summary report.
var StatTables = []string{
	"budynek",
	"mieszkanie",
	"czlonek",
	"pracownik",
	"naprawa",
	"oplata",
	"umowa",
}

// ForeignKeyColumns are id_* columns that updates may still change.
var ForeignKeyColumns = []string{
	"id_mieszkania",
	"id_uslugi",
	"id_pracownika",
	"id_budynku",
}

// Views maps URL slugs under /views/ to database view names.
var Views = map[string]string{
	"mieszkania-info":       "v_mieszkania_info",
	"oplaty-summary":        "v_oplaty_summary",
	"naprawy-status":        "v_naprawy_status",
	"pracownicy-naprawy":    "v_pracownicy_naprawy",
	"oplaty-uslugi-full":    "v_oplaty_uslugi_full",
	"budynki-uslugi-cross":  "v_budynki_uslugi_cross",
	"pracownicy-koledzy":    "v_pracownicy_koledzy",
	"czlonkowie-pelne-info": "v_czlonkowie_pelne_info",
}

// Additional views read by the resident portal and reports, not exposed by slug.
const (
	ViewMyPayments = "v_moje_oplaty"
	AuditLogTable  = "log_zmian_czlonka"
	UsersTable     = "uzytkownicy"
)

// IsTable reports whether name is an allow-listed table.
func IsTable(name string) bool {
	return slices.Contains(Tables, name)
}

// View returns the view behind a URL slug.
func View(slug string) (string, bool) {
	v, ok := Views[slug]
	return v, ok
}

// ViewNames returns every view name the catalog knows, sorted.
func ViewNames() []string {
	names := []string{ViewMyPayments}
	for _, v := range Views {
		names = append(names, v)
	}
	slices.Sort(names)
	return names
}

// IsUpdatableColumn reports whether col may appear in the SET list of an
// update. Primary keys never do; other id_ columns only when they are known
// foreign keys.
func IsUpdatableColumn(col string, primaryKeys []string) bool {
	if slices.Contains(primaryKeys, col) {
		return false
	}
	if strings.HasPrefix(col, "id_") {
		return slices.Contains(ForeignKeyColumns, col)
	}
	return true
}
