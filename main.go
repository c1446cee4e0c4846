package main

import (
	"os"

	"github.com/victorjacobs/go-vallox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
