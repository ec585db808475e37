// Package main is the catalog-service worker process entrypoint.
package main

import (
	"context"
	"log"
	"os"

	"corework/internal/app/bootstrap"
)

// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Run the publisher, consumer, and perspective runner until interrupted.
func main() {
	log.Println("catalog-service worker starting")
	app, err := bootstrap.BuildWorker(os.Args[1:])
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("catalog-service worker stopped with error: %v", err)
	}
}
