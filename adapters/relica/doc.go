// Package relica provides the SQL storage backend using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// Reads go through Relica's query builder. A commit writes its whole batch in one
// database transaction, so a sequence is never left half-updated.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/wsrm"
//	    "github.com/coregx/wsrm/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/wsrm_db?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create tables
//	if _, err := wsrm.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// driverName should be "mysql", "postgres", or "sqlite3"
//	engine, err := wsrm.NewEngine(
//	    wsrm.WithBackend(relica.NewBackend(db, "mysql")),
//	    wsrm.WithSender(sender),
//	    wsrm.WithLogger(logger),
//	)
package relica
