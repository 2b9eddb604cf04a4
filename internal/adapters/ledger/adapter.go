package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orgboard/orgsync/internal/services/transaction"
	"github.com/orgboard/orgsync/internal/sync"
)

// Sheet column layout: id | date | amount | category | note.
const (
	firstDataRow = 2 // row 1 is the header
	dateLayout   = "2006-01-02"
)

// Adapter implements the ledger side of the sync engine over a spreadsheet.
// The sheet has no modification tokens, so each pull is a full snapshot and
// the row content hash stands in for a token: an echoed hash means the row is
// unchanged.
type Adapter struct {
	client    *Client
	sheet     string
	batchRows int
}

func NewAdapter(client *Client, sheet string, batchRows int) *Adapter {
	if batchRows <= 0 {
		batchRows = 500
	}
	return &Adapter{client: client, sheet: sheet, batchRows: batchRows}
}

// Push upserts the sheet row for a transaction. An unreferenced entity is
// first looked up by id so a retried first push updates the row it already
// appended instead of duplicating it.
func (a *Adapter) Push(ctx context.Context, t *transaction.Transaction) (sync.PushResult, error) {
	ref := t.SyncableRef()
	if ref == "" {
		found, err := a.findRowByID(ctx, t.ID.String())
		if err != nil {
			return sync.PushResult{}, err
		}
		ref = found
	}

	row := encodeRow(t)

	if ref != "" {
		if err := a.client.updateRange(ctx, ref, [][]string{row}); err != nil {
			return sync.PushResult{}, err
		}
	} else {
		var err error
		ref, err = a.client.appendRow(ctx, a.sheet, row)
		if err != nil {
			return sync.PushResult{}, err
		}
	}

	return sync.PushResult{Ref: ref, Token: hashRow(row)}, nil
}

// Pull reads the whole sheet in capped batches. The cursor is a hash of the
// snapshot; it carries no incremental meaning, every cycle re-reads the sheet.
func (a *Adapter) Pull(ctx context.Context, _ string) ([]sync.Change[*transaction.Transaction], string, error) {
	var changes []sync.Change[*transaction.Transaction]
	snapshot := sha256.New()

	start := firstDataRow
	for {
		rangeRef := fmt.Sprintf("%s!A%d:E%d", a.sheet, start, start+a.batchRows-1)
		page, err := a.client.getRange(ctx, rangeRef)
		if err != nil {
			return nil, "", err
		}

		for i, cells := range page.Values {
			ref := rowRef(a.sheet, start+i)

			if isEmptyRow(cells) {
				// A cleared row is the sheet's representation of a delete,
				// whether we cleared it or a treasurer blanked it by hand.
				changes = append(changes, sync.Change[*transaction.Transaction]{
					Ref:     ref,
					Token:   hashRow(cells),
					Deleted: true,
				})
				continue
			}

			t, err := decodeRow(cells)
			if err != nil {
				return nil, "", fmt.Errorf("row %d: %w", start+i, err)
			}

			token := hashRow(cells)
			snapshot.Write([]byte(token))
			changes = append(changes, sync.Change[*transaction.Transaction]{
				Ref:    ref,
				Token:  token,
				Entity: t,
			})
		}

		if len(page.Values) < a.batchRows {
			break
		}
		start += a.batchRows
	}

	return changes, hex.EncodeToString(snapshot.Sum(nil)), nil
}

// Delete blanks the sheet row. Pulls surface cleared rows as deletes.
func (a *Adapter) Delete(ctx context.Context, ref string) error {
	return a.client.clearRange(ctx, ref)
}

// findRowByID scans the sheet for a row whose id column matches.
func (a *Adapter) findRowByID(ctx context.Context, id string) (string, error) {
	start := firstDataRow
	for {
		rangeRef := fmt.Sprintf("%s!A%d:E%d", a.sheet, start, start+a.batchRows-1)
		page, err := a.client.getRange(ctx, rangeRef)
		if err != nil {
			return "", err
		}

		for i, cells := range page.Values {
			if len(cells) > 0 && cells[0] == id {
				return rowRef(a.sheet, start+i), nil
			}
		}

		if len(page.Values) < a.batchRows {
			return "", nil
		}
		start += a.batchRows
	}
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:E%d", sheet, row, row)
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func encodeRow(t *transaction.Transaction) []string {
	return []string{
		t.ID.String(),
		t.OccurredAt.UTC().Format(dateLayout),
		formatAmountMinor(t.AmountMinor),
		t.Category,
		t.Note,
	}
}

func decodeRow(cells []string) (*transaction.Transaction, error) {
	if len(cells) < 4 {
		return nil, fmt.Errorf("short row: %d cells", len(cells))
	}

	occurredAt, err := time.Parse(dateLayout, cells[1])
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", cells[1], err)
	}

	amount, err := parseAmountMinor(cells[2])
	if err != nil {
		return nil, err
	}

	note := ""
	if len(cells) > 4 {
		note = cells[4]
	}

	return &transaction.Transaction{
		AmountMinor: amount,
		Category:    cells[3],
		Note:        note,
		OccurredAt:  occurredAt,
	}, nil
}

// hashRow is the content token for a row.
func hashRow(cells []string) string {
	h := sha256.Sum256([]byte(strings.Join(cells, "\x1f")))
	return hex.EncodeToString(h[:])
}

// formatAmountMinor renders minor units as a decimal string, -4500 -> "-45.00".
func formatAmountMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// parseAmountMinor reads a decimal amount into minor units. Treasurer-typed
// amounts like "45", "-45.5" and "45.50" all parse.
func parseAmountMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	units := s
	cents := "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		units = s[:i]
		cents = s[i+1:]
		switch len(cents) {
		case 1:
			cents += "0"
		case 2:
		default:
			return 0, fmt.Errorf("bad amount %q", s)
		}
	}
	if units == "" {
		units = "0"
	}

	u, err := strconv.ParseInt(units, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	c, err := strconv.ParseInt(cents, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}

	minor := u*100 + c
	if negative {
		minor = -minor
	}
	return minor, nil
}
