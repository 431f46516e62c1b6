// Command didctl is a command line client for a didledger server.
//
//	didctl keygen
//	didctl create --key <seed> --service '#site,LinkedDomains,https://example.com'
//	didctl update did:web:... --key <seed> --add-service '#blog,LinkedDomains,https://blog.example.com'
//	didctl deactivate did:web:... --key <seed>
//	didctl history did:web:... --verify
//
// Mutations are signed locally by default; only the detached proof is sent.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
