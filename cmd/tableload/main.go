// Command tableload loads a delimited text file into a database table.
package main

import (
	"os"

	"github.com/JonMunkholm/tableload/internal/cli"
	_ "github.com/JonMunkholm/tableload/internal/database/all" // Register all backends
)

func main() {
	os.Exit(cli.Execute())
}
