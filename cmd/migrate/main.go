package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/migrate"
	"gatekeep.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("GATEKEEP_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATEKEEP_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "bootstrap":
		err = bootstrapAdmin(ctx, *dsn)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapAdmin mints the first platform admin from operator-supplied env
// credentials. Safe to re-run: an existing admin is left untouched.
func bootstrapAdmin(ctx context.Context, dsn string) error {
	email := os.Getenv("GATEKEEP_ADMIN_EMAIL")
	password := os.Getenv("GATEKEEP_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return errors.New("GATEKEEP_ADMIN_EMAIL and GATEKEEP_ADMIN_PASSWORD are required")
	}
	name := os.Getenv("GATEKEEP_ADMIN_NAME")
	if name == "" {
		name = "Platform Admin"
	}

	st, err := pg.Open(dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	u, created, err := identity.Bootstrap(ctx, st, email, name, password)
	if err != nil {
		return err
	}
	if created {
		log.Printf("created platform admin %s (%s)", u.Email, u.ID)
	} else {
		log.Printf("platform admin %s already present", u.Email)
	}
	return nil
}
