// Command migrate applies the repository layer's schema migrations
// (internal/repository/postgres/migrations) with golang-migrate. Realms
// share one schema — there is no per-tenant migration path the way the
// teacher's tenant model implied, since every table is realm-scoped by a
// plain "realm" column rather than partitioned per tenant.
package main

import (
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}

	log.Printf("applying migrations from internal/repository/postgres/migrations")

	m, err := migrate.New(
		"file://internal/repository/postgres/migrations",
		dbURL,
	)
	if err != nil {
		log.Fatalf("migration init failed: %v", err)
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Println("database is up to date")
			return
		}
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied successfully")
}
