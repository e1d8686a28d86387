package main

import (
	"log"

	"office-hours-queue/cmd"
	_ "office-hours-queue/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
