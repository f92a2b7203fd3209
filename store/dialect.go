package store

import "fmt"

// Dialect captures the engine-specific SQL differences the domain stores
// care about. Queries are written with ? placeholders and passed through
// sqlx Rebind, so placement syntax is not part of the dialect.
type Dialect struct {
	// Name is the engine name as goose knows it.
	Name      string
	forUpdate string
}

// Postgres and SQLite are the two supported engines.
var (
	Postgres = Dialect{Name: "postgres", forUpdate: " FOR UPDATE"}
	SQLite   = Dialect{Name: "sqlite3"}
)

// ForUpdate is the row-locking clause appended to SELECTs which must hold
// their rows until the surrounding transaction commits. SQLite serializes
// writers at the connection level, so its clause is empty.
func (d Dialect) ForUpdate() string { return d.forUpdate }

// Greatest renders the two-argument maximum expression:
// GREATEST on postgres, MAX on sqlite.
func (d Dialect) Greatest(a, b string) string {
	if d.Name == Postgres.Name {
		return fmt.Sprintf("GREATEST(%s, %s)", a, b)
	}
	return fmt.Sprintf("MAX(%s, %s)", a, b)
}
