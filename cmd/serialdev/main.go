// cmd/serialdev/main.go
package main

import (
	"fmt"
	"os"

	"serial-device/internal/cli"
)

func main() {
	if err := cli.Execute(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
