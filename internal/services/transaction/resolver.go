package transaction

import (
	"github.com/orgboard/orgsync/internal/sync"
)

// Resolver implements the transaction conflict policy: the spreadsheet ledger
// is the financial system of record, so the external side wins every true
// conflict. Any pending local push is cancelled and the local row is made to
// match the ledger.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

func (Resolver) Resolve(local *Transaction, external sync.Change[*Transaction]) (sync.Resolution[*Transaction], error) {
	// ResolutionExternal covers both shapes: an external edit overwrites the
	// local row, and an external delete removes it even over a pending local
	// change.
	return sync.Resolution[*Transaction]{Action: sync.ResolutionExternal}, nil
}
