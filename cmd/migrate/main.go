package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/config"
	"github.com/seanankenbruck/analytics-nlq/internal/database"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := config.NewDefaultLoader().MustLoad(ctx)

	// Database configuration
	dbConfig := database.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}

	fmt.Println("=== Running Database Migrations ===")
	fmt.Printf("Connecting to database: %s@%s:%s/%s\n", dbConfig.Username, dbConfig.Host, dbConfig.Port, dbConfig.Database)

	// Verify database connectivity
	if err := database.VerifyDatabase(ctx, dbConfig); err != nil {
		log.Fatalf("Database connectivity failed: %v", err)
	}
	fmt.Println("✓ Database connectivity verified")

	// Run migrations
	migrationConfig := database.MigrationConfig{
		DatabaseURL:    dbConfig.URL(),
		MigrationsPath: "./migrations",
	}

	if err := database.RunMigrations(migrationConfig); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Post-migration connect failed: %v", err)
	}
	defer db.Close()

	if err := database.HealthCheck(ctx, db); err != nil {
		log.Fatalf("Post-migration check failed: %v", err)
	}

	fmt.Println("✓ Database migrations completed successfully!")
}
