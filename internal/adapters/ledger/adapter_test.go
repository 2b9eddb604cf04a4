package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/adapters/ratelimit"
	"github.com/orgboard/orgsync/internal/credentials"
	"github.com/orgboard/orgsync/internal/services/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSheet is a minimal in-memory spreadsheet values service.
type fakeSheet struct {
	rows     [][]string // rows[0] is sheet row 2
	getCalls int
}

func (f *fakeSheet) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /spreadsheets/book/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		f.getCalls++
		start, end := parseRowSpan(t, r.PathValue("range"))
		out := valueRange{Range: r.PathValue("range")}
		for row := start; row <= end; row++ {
			idx := row - 2
			if idx < 0 || idx >= len(f.rows) {
				break
			}
			out.Values = append(out.Values, f.rows[idx])
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("PUT /spreadsheets/book/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		start, _ := parseRowSpan(t, r.PathValue("range"))
		var in valueRange
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Values) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.rows[start-2] = in.Values[0]
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /spreadsheets/book/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		ref := r.PathValue("range")
		switch {
		case strings.HasSuffix(ref, ":append"):
			var in valueRange
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Values) != 1 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.rows = append(f.rows, in.Values[0])
			row := len(f.rows) + 1
			json.NewEncoder(w).Encode(appendResponse{
				UpdatedRange: fmt.Sprintf("Transactions!A%d:E%d", row, row),
			})
		case strings.HasSuffix(ref, ":clear"):
			start, _ := parseRowSpan(t, strings.TrimSuffix(ref, ":clear"))
			f.rows[start-2] = []string{"", "", "", "", ""}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

// parseRowSpan reads the row numbers out of "Transactions!A7:E9".
func parseRowSpan(t *testing.T, ref string) (int, int) {
	t.Helper()
	ref = strings.TrimPrefix(ref, "Transactions!")
	parts := strings.SplitN(ref, ":", 2)
	require.Len(t, parts, 2, "unexpected range %q", ref)
	start, err := strconv.Atoi(strings.TrimPrefix(parts[0], "A"))
	require.NoError(t, err)
	end, err := strconv.Atoi(strings.TrimPrefix(parts[1], "E"))
	require.NoError(t, err)
	return start, end
}

func newTestAdapter(t *testing.T, fake *fakeSheet, batchRows int) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	limiter := ratelimit.NewInMemoryStorage()
	t.Cleanup(limiter.Stop)

	creds := credentials.NewManager("ledger", "", "", "")
	client := NewClient(server.URL, "book", creds, limiter, 1000)
	return NewAdapter(client, "Transactions", batchRows)
}

func testTransaction() *transaction.Transaction {
	return &transaction.Transaction{
		ID:          uuid.New(),
		AmountMinor: -4550,
		Category:    "supplies",
		Note:        "paint",
		OccurredAt:  time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		Version:     1,
	}
}

func TestPushThenPullRoundTrip(t *testing.T) {
	fake := &fakeSheet{}
	adapter := newTestAdapter(t, fake, 500)

	txn := testTransaction()
	res, err := adapter.Push(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, "Transactions!A2:E2", res.Ref)
	assert.NotEmpty(t, res.Token)

	changes, cursor, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.NotEmpty(t, cursor)

	got := changes[0]
	assert.Equal(t, res.Ref, got.Ref)
	assert.Equal(t, res.Token, got.Token, "unchanged row echoes the pushed token")
	assert.Equal(t, int64(-4550), got.Entity.AmountMinor)
	assert.Equal(t, "supplies", got.Entity.Category)
	assert.Equal(t, "paint", got.Entity.Note)
	assert.Equal(t, txn.OccurredAt, got.Entity.OccurredAt)
}

func TestPushRetryDoesNotDuplicate(t *testing.T) {
	fake := &fakeSheet{}
	adapter := newTestAdapter(t, fake, 500)

	// Same entity pushed twice without a recorded ref, as after a crash
	// between the append and the push confirmation.
	txn := testTransaction()
	first, err := adapter.Push(context.Background(), txn)
	require.NoError(t, err)

	second, err := adapter.Push(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref, "retried push finds its row by id")
	assert.Len(t, fake.rows, 1)
}

func TestPullBatchesLargeSheets(t *testing.T) {
	fake := &fakeSheet{}
	for i := 0; i < 7; i++ {
		txn := testTransaction()
		fake.rows = append(fake.rows, encodeRow(txn))
	}
	adapter := newTestAdapter(t, fake, 3)

	changes, _, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, changes, 7)
	assert.Equal(t, 3, fake.getCalls, "7 rows at batch size 3 is three reads")
}

func TestDeleteClearsRowAndPullReadsItAsDeleted(t *testing.T) {
	fake := &fakeSheet{}
	adapter := newTestAdapter(t, fake, 500)

	txn := testTransaction()
	res, err := adapter.Push(context.Background(), txn)
	require.NoError(t, err)

	require.NoError(t, adapter.Delete(context.Background(), res.Ref))

	changes, _, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, res.Ref, changes[0].Ref)
	assert.True(t, changes[0].Deleted, "a cleared row reads as a delete")
	assert.Nil(t, changes[0].Entity)
}

func TestExternalRowClearSurfacesDelete(t *testing.T) {
	fake := &fakeSheet{}
	adapter := newTestAdapter(t, fake, 500)

	kept := testTransaction()
	blanked := testTransaction()
	_, err := adapter.Push(context.Background(), kept)
	require.NoError(t, err)
	res, err := adapter.Push(context.Background(), blanked)
	require.NoError(t, err)

	// A treasurer blanks the second row directly in the spreadsheet.
	fake.rows[1] = []string{"", "", "", "", ""}

	changes, _, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, kept.ID.String(), changes[0].Entity.ID.String())
	assert.False(t, changes[0].Deleted)

	assert.Equal(t, res.Ref, changes[1].Ref)
	assert.True(t, changes[1].Deleted, "hand-blanked row must surface as a delete change")
	assert.Nil(t, changes[1].Entity)
}

func TestAmountCodec(t *testing.T) {
	tests := []struct {
		text  string
		minor int64
	}{
		{"45.00", 4500},
		{"-45.00", -4500},
		{"0.05", 5},
		{"-0.05", -5},
		{"1200.00", 120000},
	}

	for _, tt := range tests {
		minor, err := parseAmountMinor(tt.text)
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.minor, minor, tt.text)
		assert.Equal(t, tt.text, formatAmountMinor(tt.minor))
	}

	// Hand-typed variants parse too.
	minor, err := parseAmountMinor("45")
	require.NoError(t, err)
	assert.Equal(t, int64(4500), minor)

	minor, err = parseAmountMinor("-45.5")
	require.NoError(t, err)
	assert.Equal(t, int64(-4550), minor)

	_, err = parseAmountMinor("12.345")
	assert.Error(t, err)
	_, err = parseAmountMinor("abc")
	assert.Error(t, err)
}
