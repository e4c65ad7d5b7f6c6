// Command hashkey prints the bcrypt hash of an operator key for
// OPERATOR_KEY_HASH.
//
//	go run ./cmd/hashkey <key>
package main

import (
	"fmt"
	"os"

	"github.com/ActiveTutorial/gamble-to-depression/internal/auth/credentials"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hashkey <operator-key>")
		os.Exit(2)
	}

	hash, err := credentials.HashKey(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashkey:", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
