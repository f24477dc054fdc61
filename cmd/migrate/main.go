// Command migrate applies the embedded SQL migrations. Each file runs in its
// own transaction together with its schema_migrations row.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"

	"custody/internal/config"
	"custody/internal/db"
	"custody/migrations"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

const downMarker = "-- +migrate Down"

func main() {
	down := flag.Bool("down", false, "roll back the most recently applied migration")
	status := flag.Bool("status", false, "list migrations and whether they are applied")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		log.Fatalf("failed to ensure schema_migrations: %v", err)
	}
	files, err := migrationFiles(migrations.FS)
	if err != nil {
		log.Fatalf("failed to read migrations: %v", err)
	}
	var applied []string
	if err := database.SelectContext(ctx, &applied, `SELECT filename FROM schema_migrations ORDER BY filename`); err != nil {
		log.Fatalf("failed to read migration state: %v", err)
	}

	switch {
	case *status:
		done := make(map[string]bool, len(applied))
		for _, name := range applied {
			done[name] = true
		}
		for _, name := range files {
			state := "pending"
			if done[name] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, name)
		}
	case *down:
		if len(applied) == 0 {
			fmt.Println("nothing to roll back")
			return
		}
		name := applied[len(applied)-1]
		if err := run(ctx, database, name, false); err != nil {
			log.Fatalf("failed to roll back %s: %v", name, err)
		}
		fmt.Printf("rolled back %s\n", name)
	default:
		for _, name := range pending(files, applied) {
			if err := run(ctx, database, name, true); err != nil {
				log.Fatalf("failed to apply %s: %v", name, err)
			}
			fmt.Printf("applied %s\n", name)
		}
	}
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func pending(files, applied []string) []string {
	done := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		done[name] = struct{}{}
	}
	var out []string
	for _, name := range files {
		if _, ok := done[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func run(ctx context.Context, database *sqlx.DB, name string, up bool) error {
	content, err := fs.ReadFile(migrations.FS, name)
	if err != nil {
		return err
	}
	upSQL, downSQL := sections(string(content))
	body := upSQL
	if !up {
		body = downSQL
	}
	return db.WithTx(ctx, database, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		if err := execAll(ctx, tx, splitSQL(body)); err != nil {
			return err
		}
		if up {
			_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE filename = $1`, name)
		}
		return err
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execAll(ctx context.Context, tx execer, statements []string) error {
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, strings.TrimSpace(stmt))
		}
	}
	return nil
}

// sections splits a migration file at the down marker.
func sections(content string) (string, string) {
	up, down, _ := strings.Cut(content, downMarker)
	return up, down
}

// splitSQL breaks a script into statements on lines ending in ';'. Comment
// lines and blank statements are dropped.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}
