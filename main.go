// The main package for the mongodb-writer executable.
package main

import (
	// Embedded zoneinfo so processed_at formatting works in images without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/hiber-niu/heritrix-mongodb-writer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
