package main

import (
	"log" // Use standard log only for fatal errors outside the application logger

	"cryptoSentinelBot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}
