package migrations

import "github.com/jmoiron/sqlx"

func init() {
	m.addMigration(&migration{
		version: "20260301094000",
		up:      mig_20260301094000_entity_notify_up,
		down:    mig_20260301094000_entity_notify_down,
	})
}

// NOTIFY on local entity writes so a running server can debounce them into an
// outward sync cycle. Payload is "table:operation".
func mig_20260301094000_entity_notify_up(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
        CREATE OR REPLACE FUNCTION notify_entity_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('entity_changes', TG_TABLE_NAME || ':' || TG_OP);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        DROP TRIGGER IF EXISTS events_notify ON events;
        CREATE TRIGGER events_notify
            AFTER INSERT OR UPDATE OR DELETE ON events
            FOR EACH STATEMENT EXECUTE FUNCTION notify_entity_change();
    `)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
        DROP TRIGGER IF EXISTS transactions_notify ON transactions;
        CREATE TRIGGER transactions_notify
            AFTER INSERT OR UPDATE OR DELETE ON transactions
            FOR EACH STATEMENT EXECUTE FUNCTION notify_entity_change();
    `)
	if err != nil {
		return err
	}

	return nil
}

func mig_20260301094000_entity_notify_down(tx *sqlx.Tx) error {
	if _, err := tx.Exec(`DROP TRIGGER IF EXISTS events_notify ON events;`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DROP TRIGGER IF EXISTS transactions_notify ON transactions;`); err != nil {
		return err
	}
	_, err := tx.Exec(`DROP FUNCTION IF EXISTS notify_entity_change;`)
	return err
}
