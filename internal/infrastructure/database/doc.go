// Package database opens the bridge's SQLite database and applies its
// schema migrations.
//
// The database only backs the command audit journal. It runs in WAL mode
// with a busy timeout and a single connection.
//
// Migrations are read from an fs.FS holding
// YYYYMMDD_HHMMSS_description.up.sql files (with optional .down.sql
// counterparts); the migrations package embeds the production set:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
