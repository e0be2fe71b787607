/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package main

import (
	"fmt"
	"os"

	"github.com/gobble-im/gobble/app"
)

func main() {
	if err := app.New(os.Stdout, os.Args).Run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gobble: %v\n", err)
		os.Exit(1)
	}
}
