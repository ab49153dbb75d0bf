// Command quizctl administers quizdesk profiles and database migrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultBackend()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
