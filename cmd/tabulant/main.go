// Command tabulant serves the chat-with-your-data service: users upload a
// CSV or Parquet file and ask questions over a websocket; an LLM-backed
// agent answers with text, tables, and charts built from read-only SQL.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
