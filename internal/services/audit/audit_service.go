// Package audit keeps the append-only history of sync cycles in ClickHouse.
// The store is write-heavy and queried in aggregate, which is what the
// column engine is for; losing a row on a crash is acceptable here.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/orgboard/orgsync/internal/sync"
)

// CycleRecord is one persisted sync cycle.
type CycleRecord struct {
	CycleID    string    `json:"cycle_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs float64   `json:"duration_ms"`
	Pulled     uint32    `json:"pulled"`
	Applied    uint32    `json:"applied"`
	Conflicts  uint32    `json:"conflicts"`
	Parked     uint32    `json:"parked"`
	Pushed     uint32    `json:"pushed"`
	Deleted    uint32    `json:"deleted"`
	Error      string    `json:"error,omitempty"`
}

// CycleQueryParams filters the cycle history.
type CycleQueryParams struct {
	Source     string
	OnlyFailed bool
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// AuditService records and queries sync cycle history
type AuditService struct {
	conn driver.Conn
}

// NewAuditService creates a new AuditService and ensures the cycle table
// exists.
func NewAuditService(conn driver.Conn) (*AuditService, error) {
	s := &AuditService{conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_cycles (
			CycleId    UUID,
			Source     LowCardinality(String),
			StartedAt  DateTime64(3),
			FinishedAt DateTime64(3),
			Pulled     UInt32,
			Applied    UInt32,
			Conflicts  UInt32,
			Parked     UInt32,
			Pushed     UInt32,
			Deleted    UInt32,
			Error      String
		) ENGINE = MergeTree()
		ORDER BY (Source, StartedAt)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_cycles table: %w", err)
	}

	return s, nil
}

// RecordCycle implements sync.Recorder. The insert runs detached so a slow
// audit store never stalls a sync cycle.
func (s *AuditService) RecordCycle(_ context.Context, report sync.CycleReport) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err := s.conn.Exec(ctx, `
			INSERT INTO sync_cycles
				(CycleId, Source, StartedAt, FinishedAt, Pulled, Applied, Conflicts, Parked, Pushed, Deleted, Error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.CycleID, string(report.Source), report.StartedAt, report.FinishedAt,
			uint32(report.Pulled), uint32(report.Applied), uint32(report.Conflicts),
			uint32(report.Parked), uint32(report.Pushed), uint32(report.Deleted), report.Err)
		if err != nil {
			slog.Error("Failed to record sync cycle",
				slog.String("source", string(report.Source)),
				slog.String("cycle_id", report.CycleID.String()),
				slog.Any("error", err))
		}
	}()
}

// ListCycles returns the cycle history, newest first
func (s *AuditService) ListCycles(ctx context.Context, params *CycleQueryParams) ([]CycleRecord, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	if params.StartTime.IsZero() {
		params.StartTime = time.Now().Add(-7 * 24 * time.Hour)
	}
	if params.EndTime.IsZero() {
		params.EndTime = time.Now()
	}

	conditions := []string{"StartedAt >= ?", "StartedAt <= ?"}
	args := []interface{}{params.StartTime, params.EndTime}

	if params.Source != "" {
		conditions = append(conditions, "Source = ?")
		args = append(args, params.Source)
	}
	if params.OnlyFailed {
		conditions = append(conditions, "Error != ''")
	}

	whereClause := ""
	for i, cond := range conditions {
		if i > 0 {
			whereClause += " AND "
		}
		whereClause += cond
	}

	query := fmt.Sprintf(`
		SELECT
			toString(CycleId),
			Source,
			StartedAt,
			FinishedAt,
			(toUnixTimestamp64Milli(FinishedAt) - toUnixTimestamp64Milli(StartedAt)) as DurationMs,
			Pulled, Applied, Conflicts, Parked, Pushed, Deleted,
			Error
		FROM sync_cycles
		WHERE %s
		ORDER BY StartedAt DESC
		LIMIT ?
	`, whereClause)

	queryArgs := append(args, params.Limit)

	rows, err := s.conn.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var durationMs int64
		if err := rows.Scan(
			&rec.CycleID,
			&rec.Source,
			&rec.StartedAt,
			&rec.FinishedAt,
			&durationMs,
			&rec.Pulled,
			&rec.Applied,
			&rec.Conflicts,
			&rec.Parked,
			&rec.Pushed,
			&rec.Deleted,
			&rec.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		rec.DurationMs = float64(durationMs)
		records = append(records, rec)
	}

	return records, nil
}
