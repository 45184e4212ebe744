package main

import (
	"context"
	"fmt"
	"log"

	"wenmoon/internal/config"
	"wenmoon/internal/database"
	"wenmoon/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.InitLogger()

	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Database connection failed:", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		log.Fatal("Migration failed:", err)
	}

	fmt.Println("✅ Schema is up to date!")
}
