package bizobj

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xfxf/dabo/internal/database"
)

func openOrdersDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "orders", database.SQLite, filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE orders (
			id       INTEGER PRIMARY KEY,
			customer TEXT NOT NULL,
			amount   REAL,
			created  TEXT
		)`,
		`INSERT INTO orders (id, customer, amount, created) VALUES (1, 'acme', 10.5, '2024-01-01')`,
		`INSERT INTO orders (id, customer, amount, created) VALUES (2, 'globex', 20, '2024-01-02')`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			t.Fatalf("setup %q: %v", s, err)
		}
	}
	return db
}

func ordersDef() TableDef {
	return TableDef{
		Table:       "orders",
		KeyField:    "id",
		DefaultSQL:  "SELECT id, customer, amount, created FROM orders ORDER BY id",
		AllowDelete: true,
		Rules: Rules{
			Required:  []string{"customer"},
			ReadOnly:  []string{"created"},
			MaxLength: map[string]int{"customer": 10},
		},
	}
}
