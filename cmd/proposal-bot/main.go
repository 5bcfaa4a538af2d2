package main

import (
	"os"

	"github.com/noah-isme/course-proposals/internal/cli"
)

// @title Course Proposals API
// @version 1.0.0
// @description Confirm-then-ingest review workflow for generated golf course records
// @BasePath /
// @schemes http

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
