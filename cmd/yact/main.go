// Command yact runs shell commands in disposable container sandboxes whose
// working directory persists on the host.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/isdmx/yact/cmd/yact/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
