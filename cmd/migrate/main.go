package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"wadispatch/internal/config"
	"wadispatch/internal/database"
	"wadispatch/internal/migrations"
)

func main() {
	driver := flag.String("driver", config.DriverSQLite, "Database driver: sqlite or postgres")
	dbPath := flag.String("db", "./wadispatch.db", "Path to the SQLite database file")
	dbURL := flag.String("url", os.Getenv("WADISPATCH_DATABASE_URL"), "PostgreSQL connection URL")
	printOnly := flag.Bool("print", false, "Print the schema instead of applying it")
	flag.Parse()

	if *printOnly {
		schema, err := migrations.GetSchema(migrations.Dialect(*driver))
		if err != nil {
			log.Fatalf("Failed to read schema: %v", err)
		}
		fmt.Print(schema)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch *driver {
	case config.DriverSQLite:
		fmt.Printf("Applying schema to %s\n", *dbPath)
		db, err := database.New(*dbPath, "")
		if err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		db.Close()
	case config.DriverPostgres:
		if *dbURL == "" {
			log.Fatal("A PostgreSQL URL is required (-url or WADISPATCH_DATABASE_URL)")
		}
		fmt.Println("Applying schema to PostgreSQL")
		store, err := database.NewPostgresStore(ctx, *dbURL, 1, 1, "")
		if err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		store.Close()
	default:
		log.Fatalf("Unsupported driver %q", *driver)
	}

	fmt.Println("Schema is up to date")
}
