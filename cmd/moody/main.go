// Command moody imports scenarios into and queries schema-defined models.
//
//	moody scenario --schema schema.json 'data/**/*.json'
//	moody find widgets --schema schema.json --filter '{"color":"red"}' --sort -title
//	moody count widgets --schema schema.json --memory --seed 'data/*.json'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
