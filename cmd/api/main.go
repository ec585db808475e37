// Package main is the catalog-service API process entrypoint.
package main

import (
	"context"
	"log"
	"os"

	"corework/internal/app/bootstrap"
)

// Data flow:
// 1) Load config.
// 2) Build app wiring (engine + catalog-service handlers).
// 3) Serve HTTP until interrupted.
func main() {
	log.Println("catalog-service api starting")
	app, err := bootstrap.BuildAPI(os.Args[1:])
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("catalog-service api stopped with error: %v", err)
	}
}
