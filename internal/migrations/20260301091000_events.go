package migrations

import "github.com/jmoiron/sqlx"

func init() {
	m.addMigration(&migration{
		version: "20260301091000",
		up:      mig_20260301091000_events_up,
		down:    mig_20260301091000_events_down,
	})
}

func mig_20260301091000_events_up(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
        CREATE TABLE IF NOT EXISTS events (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            program VARCHAR(255) NOT NULL DEFAULT '',
            title VARCHAR(512) NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
            ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
            status VARCHAR(32) NOT NULL DEFAULT 'planned',
            calendar_ref VARCHAR(255),
            calendar_token VARCHAR(255) NOT NULL DEFAULT '',
            version BIGINT NOT NULL DEFAULT 1,
            pushed_version BIGINT NOT NULL DEFAULT 0,
            deleted_at TIMESTAMP WITH TIME ZONE,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        CREATE INDEX IF NOT EXISTS idx_events_calendar_ref ON events(calendar_ref);
    `)
	if err != nil {
		return err
	}

	// Pending-push lookups scan version > pushed_version
	_, err = tx.Exec(`
        CREATE INDEX IF NOT EXISTS idx_events_pending ON events(version, pushed_version);
    `)
	if err != nil {
		return err
	}

	return nil
}

func mig_20260301091000_events_down(tx *sqlx.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS events;`)
	return err
}
