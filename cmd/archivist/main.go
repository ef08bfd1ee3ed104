// Command archivist is the command-line front end of the document archive.
package main

import (
	"os"

	"github.com/roach88/archivist/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
