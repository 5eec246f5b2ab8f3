// Command batch-proxy exposes one batch source over HTTP.
//
// The proxy loads an upstream paged or token endpoint batch by batch and
// serves the accumulated items, the loading/completed/error state and a
// server-sent event stream of every state change.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
