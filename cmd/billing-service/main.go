package main

import (
	"log"

	"github.com/yummspb13/kiddeo22-sub010/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("billing service failed: %v", err)
	}
}
