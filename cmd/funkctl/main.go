// Command funkctl manages funk stores in file-backed workspaces.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
