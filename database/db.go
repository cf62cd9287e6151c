package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "storedb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Bootstrap schema. Products, variants and users are owned by the
	// catalog/back-office; the tables are created here so the service runs
	// standalone in dev.
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price NUMERIC(10,2) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS product_variants (
		id SERIAL PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		color VARCHAR(64),
		model VARCHAR(64),
		stock_quantity INT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'customer'
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		email VARCHAR(255) NOT NULL,
		phone VARCHAR(32),
		shipping_first_name VARCHAR(255) NOT NULL,
		shipping_last_name VARCHAR(255) NOT NULL,
		shipping_address VARCHAR(512) NOT NULL,
		shipping_city VARCHAR(255) NOT NULL,
		shipping_zip VARCHAR(16) NOT NULL,
		total NUMERIC(10,2) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		payment_status VARCHAR(32) NOT NULL DEFAULT 'pending',
		payment_method VARCHAR(64),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		unit_price NUMERIC(10,2) NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0)
	);
	`

	if _, err := db.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
