// Package main provides the bedrockrouter-cli command-line tool for the
// bedrock-router.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	router "github.com/tessera-ops/bedrock-router"
	"github.com/tessera-ops/bedrock-router/internal/cachekey"
	"github.com/tessera-ops/bedrock-router/internal/version"
)

const usage = `bedrockrouter-cli — bedrock-router command line tool

Usage:
  bedrockrouter-cli <command> [arguments]

Commands:
  validate <config-file>       Validate a routing configuration file (JSON/YAML)
  key <app-name> <json>        Print the cache key for a request payload
  version                      Print version info
  help                         Show this help
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "validate":
		cmdValidate()
	case "key":
		cmdKey()
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func cmdValidate() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: bedrockrouter-cli validate <config-file>")
		os.Exit(1)
	}
	path := os.Args[2]

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := router.ParseRoutingConfig(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Config is valid\n")
	fmt.Printf("  Rules:         %d\n", len(cfg.RoutingRules))
	fmt.Printf("  Default agent: %s\n", orNone(cfg.DefaultAgent))

	apps := make([]string, 0, len(cfg.RoutingRules))
	for app := range cfg.RoutingRules {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	if len(apps) > 0 {
		fmt.Printf("  Applications:  %s\n", strings.Join(apps, ", "))
	}
	for _, app := range apps {
		if _, ok := cfg.Route(app); !ok {
			fmt.Fprintf(os.Stderr, "Warning: no agent resolvable for %q\n", app)
		}
	}
}

func cmdKey() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: bedrockrouter-cli key <app-name> <json>")
		os.Exit(1)
	}
	appName := os.Args[2]

	var payload map[string]any
	if err := json.Unmarshal([]byte(os.Args[3]), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(cachekey.Derive(appName, payload))
}

func cmdVersion() {
	fmt.Printf("bedrockrouter-cli %s\n", version.String())
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
