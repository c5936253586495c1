package main

import (
	"os"

	"github.com/zjy-dev/cbi/cmd/cbi/app"
)

func main() {
	cmd := app.NewCbiCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
