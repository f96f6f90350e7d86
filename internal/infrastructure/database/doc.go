// Package database provides SQLite connectivity for the PurrSong bridge.
//
// The bridge keeps one durable record per configured PurrSong account
// (credentials, entry version, unique id). This package owns the
// connection and the schema migrations; the account package owns the
// queries.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - The file holds account passwords, so keep the data directory private
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    cfg.Database.WALMode,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
