package migrations

import "github.com/jmoiron/sqlx"

func init() {
	m.addMigration(&migration{
		version: "20260301092000",
		up:      mig_20260301092000_transactions_up,
		down:    mig_20260301092000_transactions_down,
	})
}

func mig_20260301092000_transactions_up(tx *sqlx.Tx) error {
	// amount_minor is the signed amount in minor units (cents); money is never
	// stored as a float.
	_, err := tx.Exec(`
        CREATE TABLE IF NOT EXISTS transactions (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            amount_minor BIGINT NOT NULL,
            category VARCHAR(255) NOT NULL,
            note TEXT NOT NULL DEFAULT '',
            occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
            ledger_ref VARCHAR(255),
            ledger_token VARCHAR(255) NOT NULL DEFAULT '',
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
        CREATE INDEX IF NOT EXISTS idx_transactions_ledger_ref ON transactions(ledger_ref);
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(version, pushed_version);
    `)
	if err != nil {
		return err
	}

	return nil
}

func mig_20260301092000_transactions_down(tx *sqlx.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS transactions;`)
	return err
}
