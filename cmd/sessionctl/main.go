// Command sessionctl is the operator tool for session databases: it lists the
// catalog, reports databases left behind by partially failed starts and drops
// sessions while the server is down.
package main

import (
	"log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
