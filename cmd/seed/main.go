package main

import (
	"log"
	"log/slog"
	"os"

	"golang.org/x/crypto/bcrypt"

	"panel-service/internal/config"
	"panel-service/internal/database"
	"panel-service/internal/models"
	"panel-service/internal/repositories/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting database seeding...")

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	userRepo := postgres.NewUserRepository(db)

	email := os.Getenv("SEED_ADMIN_EMAIL")
	if email == "" {
		email = "admin@localhost"
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Failed to hash password:", err)
	}

	admin := &models.User{
		Username: "admin",
		Email:    email,
		Password: string(hashed),
	}
	if err := userRepo.Create(admin); err != nil {
		slog.Warn("Admin user not created", "email", email, "error", err)
	} else {
		slog.Info("Admin user created", "email", email, "id", admin.ID)
	}

	slog.Info("Seeding complete")
}
