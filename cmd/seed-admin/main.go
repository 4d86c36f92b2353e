package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/playdama/backend/internal/config"
	"github.com/playdama/backend/internal/database"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = "admin@playdama.com"
		log.Printf("Using default admin email: %s", email)
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "change-me-in-production"
		log.Printf("WARNING: Using default admin password. Set ADMIN_PASSWORD env var in production!")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	var userID string
	err = db.Get(&userID, `
		INSERT INTO profiles (email, username, password_hash)
		VALUES ($1, 'admin', $2)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = NOW()
		RETURNING id`, email, string(hash))
	if err != nil {
		log.Fatalf("Failed to create admin profile: %v", err)
	}

	if _, err := db.Exec(`
		INSERT INTO user_roles (user_id, role) VALUES ($1, 'admin')
		ON CONFLICT (user_id, role) DO NOTHING`, userID); err != nil {
		log.Fatalf("Failed to grant admin role: %v", err)
	}

	log.Printf("✓ Admin account created/updated successfully")
	log.Printf("  Email: %s", email)
	log.Printf("  User ID: %s", userID)
}
