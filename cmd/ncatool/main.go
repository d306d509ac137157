// Command ncatool inspects, extracts, and repacks Nintendo Switch NCA
// content archives: decrypting headers, walking PFS0/RomFS partitions, and
// patching CNMT/Program NCAs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ncatool:", err)
		os.Exit(1)
	}
}
