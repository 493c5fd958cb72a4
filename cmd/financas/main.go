package main

import (
	"os"

	"github.com/financas-app/financas/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
