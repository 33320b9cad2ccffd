package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/linlinbupt123-crypto/vault_service/config"
	"github.com/linlinbupt123-crypto/vault_service/db"
)

func main() {
	path := flag.String("config", "config.yaml", "config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatal("load config:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := db.NewMongoRepo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal("MongoDB connect error:", err)
	}
	defer func() {
		if err := repo.Close(ctx); err != nil {
			log.Printf("MongoDB disconnect error: %v", err)
		}
	}()

	if err := db.EnsureIndexes(ctx, repo.DB); err != nil {
		log.Fatal("Init indexes failed:", err)
	}
	fmt.Println("All indexes initialized successfully.")
}
