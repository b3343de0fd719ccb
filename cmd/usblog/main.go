// Command usblog simulates a usblog device on an in-memory USB bus and
// decodes captured log streams.
package main

import (
	"os"

	"github.com/ardnew/usblog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
