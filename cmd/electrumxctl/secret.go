// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh/terminal"
)

// promptArg is the argument that asks for a secret on the terminal instead
// of the command line.
const promptArg = "prompt"

func zero(b []byte) {
	for i := 0; i < len(b); i++ {
		b[i] = 0x00
	}
}

// readSecret prints prompt to stderr and reads a line from the terminal
// without echo.  The caller should zero the result when done with it.
func readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return nil, fmt.Errorf("unable to read secret: %w", err)
	}
	return secret, nil
}
