// # cmd/zira/main.go
package main

import (
	"os"

	"zira/internal/ui/cli"

	_ "go.uber.org/automaxprocs"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
