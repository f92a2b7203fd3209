package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tidemark/keel/crypto"
)

type cmdKeygen struct{}

func (cmdKeygen) Execute(_ []string) error {
	var key = make([]byte, crypto.KeyLen)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("drawing key: %w", err)
	}

	// The key goes to stdout so it pipes cleanly; the hint goes to stderr.
	fmt.Println(hex.EncodeToString(key))
	fmt.Fprintln(os.Stderr, green("OK:"), "set this as CREDENTIALS_ENCRYPTION_KEY")
	return nil
}
