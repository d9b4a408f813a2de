package main

import (
	"os"

	"github.com/alexjbarnes/pushbox/cmd/pushbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
