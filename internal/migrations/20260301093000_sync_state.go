package migrations

import "github.com/jmoiron/sqlx"

func init() {
	m.addMigration(&migration{
		version: "20260301093000",
		up:      mig_20260301093000_sync_state_up,
		down:    mig_20260301093000_sync_state_down,
	})
}

func mig_20260301093000_sync_state_up(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
        CREATE TABLE IF NOT EXISTS sync_cursors (
            source VARCHAR(32) PRIMARY KEY,
            cursor TEXT NOT NULL DEFAULT '',
            last_synced_at TIMESTAMP WITH TIME ZONE,
            consecutive_failures INT NOT NULL DEFAULT 0,
            degraded BOOLEAN NOT NULL DEFAULT false,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
        );
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        INSERT INTO sync_cursors (source) VALUES ('calendar'), ('ledger')
        ON CONFLICT (source) DO NOTHING;
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        CREATE TABLE IF NOT EXISTS sync_reviews (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            source VARCHAR(32) NOT NULL,
            entity_id UUID NOT NULL,
            reason TEXT NOT NULL,
            local_state JSONB,
            external_state JSONB,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
            resolved_at TIMESTAMP WITH TIME ZONE
        );
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        CREATE INDEX IF NOT EXISTS idx_sync_reviews_open ON sync_reviews(entity_id) WHERE resolved_at IS NULL;
    `)
	if err != nil {
		return err
	}

	return nil
}

func mig_20260301093000_sync_state_down(tx *sqlx.Tx) error {
	if _, err := tx.Exec(`DROP TABLE IF EXISTS sync_reviews;`); err != nil {
		return err
	}
	_, err := tx.Exec(`DROP TABLE IF EXISTS sync_cursors;`)
	return err
}
