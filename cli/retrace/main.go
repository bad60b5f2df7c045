package main

import (
	"os"

	retracecmder "github.com/retracehq/retrace/cmd/retrace"
)

func main() {
	cmd := retracecmder.NewRetraceCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
