package transaction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLedgerAlwaysWins(t *testing.T) {
	ref := "sheet!A7"
	local := &Transaction{
		ID:            uuid.New(),
		AmountMinor:   -4500,
		Category:      "supplies",
		OccurredAt:    time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		LedgerRef:     &ref,
		LedgerToken:   "h1",
		Version:       3,
		PushedVersion: 2,
	}

	edited := sync.Change[*Transaction]{
		Ref:   ref,
		Token: "h2",
		Entity: &Transaction{
			AmountMinor: -5000,
			Category:    "supplies",
			OccurredAt:  local.OccurredAt,
		},
	}

	res, err := Resolver{}.Resolve(local, edited)
	require.NoError(t, err)
	assert.Equal(t, sync.ResolutionExternal, res.Action)

	// A ledger-side delete also beats a pending local edit.
	deleted := sync.Change[*Transaction]{Ref: ref, Deleted: true}
	res, err = Resolver{}.Resolve(local, deleted)
	require.NoError(t, err)
	assert.Equal(t, sync.ResolutionExternal, res.Action)
}
