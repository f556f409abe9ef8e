// Command dashctl reads pentest activity from the terminal.
package main

import (
	"os"

	"github.com/thaveesi/blackRabbit/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
