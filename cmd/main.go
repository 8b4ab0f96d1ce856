package main

import (
	"fmt"
	"os"

	"github.com/cwbudde/clpipe/internal/compute"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if log, ok := compute.BuildLog(err); ok && log != "" {
			fmt.Fprintf(os.Stderr, "build log:\n%s\n", log)
		}
		os.Exit(1)
	}
}
