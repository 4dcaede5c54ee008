// Command migrate applies the pending schema migrations embedded in
// features/sqlstore to the database named by DATABASE_URL (or -database-url)
// and exits. cmd/server's own sqlstore.Open call already does this on every
// startup; this command exists for operators who want migrations applied as
// a separate, explicit deploy step (a CI init container ahead of the
// rolling restart, say) rather than implicitly on the server's first boot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	"github.com/siteforge-ai/core/features/sqlstore"
)

func main() {
	urlF := flag.String("database-url", os.Getenv("DATABASE_URL"), "Database connection URL (postgres:// or sqlite://)")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if *urlF == "" {
		log.Fatal(ctx, fmt.Errorf("cmd/migrate: -database-url or DATABASE_URL is required"))
	}

	db, err := sqlstore.Open(ctx, sqlstore.Config{URL: *urlF})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("cmd/migrate: %w", err))
	}
	defer func() { _ = db.Close() }()

	log.Print(ctx, log.KV{K: "msg", V: "migrations applied"}, log.KV{K: "dialect", V: string(db.Dialect)})
}
