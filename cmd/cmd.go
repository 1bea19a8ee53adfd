// Package cmd provides CLI commands for chatqd.
//
// Commands:
//   - serve: HTTP API server with SSE job streaming
//   - version: build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the chatqd CLI application.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("chatqd - chat completion job dispatch daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  chatqd serve [addr]  Start HTTP API server (default: :8080)")
	fmt.Println("  chatqd --version     Show version information")
	fmt.Println("  chatqd --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  CHATQD_API_KEY       Model API key (optional for local backends)")
	fmt.Println("  CHATQD_BASE_URL      OpenAI-compatible endpoint URL")
	fmt.Println("  CHATQD_DEFAULT_MODEL Model used when a request names none")
	fmt.Println("  CHATQD_LOG_LEVEL     debug, info, warn, or error")
	fmt.Println()
	fmt.Println("Configuration file: ~/.chatqd/config.yaml")
}
