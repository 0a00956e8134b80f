package relational

import (
	"strconv"
	"strings"
)

// Dialect covers the few syntax differences between the supported drivers.
type Dialect struct {
	Name string
	// CaseInsensitiveLike is the operator used for substring matches.
	CaseInsensitiveLike string
	numbered            bool
}

var (
	PostgresDialect = Dialect{Name: DriverPostgres, CaseInsensitiveLike: "ILIKE", numbered: true}
	SQLiteDialect   = Dialect{Name: DriverSQLite, CaseInsensitiveLike: "LIKE"}
)

func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// quoteIdent quotes an identifier already validated by the catalog.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(text string) string {
	return "%" + likeEscaper.Replace(text) + "%"
}
