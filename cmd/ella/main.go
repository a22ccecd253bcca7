// Command ella runs the companion as an HTTP service or an interactive
// terminal chat.
package main

// @title Ella API
// @version 1.0
// @description Conversational companion that remembers the people it talks to.
// @BasePath /
// @schemes http https

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
