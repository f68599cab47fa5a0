package meta

import "github.com/teris-io/shortid"

// MigrationId is threaded through every donor<->recipient RPC so the
// recipient can reject stale or crossed-over requests (spec.md §3).
type MigrationId string

var sidGen *shortid.Shortid

func init() {
	g, err := shortid.New(1, shortid.DefaultABC, 0xbeef)
	if err != nil {
		// shortid.New only fails on a bad alphabet; DefaultABC is always valid.
		panic(err)
	}
	sidGen = g
}

// NewMigrationId generates a globally unique migration identifier.
func NewMigrationId() MigrationId {
	id, err := sidGen.Generate()
	if err != nil {
		// entropy exhaustion is effectively unreachable for shortid's counter-based
		// generator; surface it loudly rather than silently reusing an id.
		panic(err)
	}
	return MigrationId(id)
}
