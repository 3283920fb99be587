package main

import "github.com/joho/godotenv"

func main() {
	// Missing .env files are fine; flags and defaults still apply.
	_ = godotenv.Load()

	Execute()
}
