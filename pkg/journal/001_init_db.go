package journal

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE disconnects (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			time   INTEGER NOT NULL,
			remote TEXT    NOT NULL,
			guid   INTEGER NOT NULL,
			reason TEXT    NOT NULL DEFAULT ''
		) STRICT;
	`, `
		`, "\n"))
	return err
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE disconnects`)
	return err
}
