// Package telsql records queries made through database/sql.
//
// Queries are recorded by wrapping the driver underneath a *sql.DB, so
// application code keeps using the standard library API unchanged. Queries
// made with a context carrying a request are correlated to that request.
//
//	db, err := telsql.OpenDB(tel, "sqlite", "file:app.db")
//	...
//	rows, err := db.QueryContext(r.Context(), "SELECT * FROM users WHERE id = ?", id)
package telsql
