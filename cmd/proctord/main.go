// proctord - session integrity monitor
//
// proctord watches screen content and gaze behaviour during a monitored
// session and reports policy violations to a remote observer:
//
//	proctord run        Run the monitor until interrupted
//	proctord check      Validate configuration and probe capabilities
//	proctord keywords   Dry-run the forbidden keyword matcher
//	proctord journal    Show or verify the local event journal
//	proctord version    Print version information
package main

import (
	"fmt"
	"os"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "check":
		err = cmdCheck(args)
	case "keywords":
		err = cmdKeywords(args)
	case "journal":
		err = cmdJournal(args)
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`proctord - Session Integrity Monitor

USAGE:
    proctord <command> [options]

COMMANDS:
    run                 Run the monitor until interrupted
    check               Validate configuration and probe capabilities
    keywords            Test recognized text against the keyword list
    journal             Show recent journal entries or verify the chain
    version             Print version information
    help                Show this help message

OPTIONS:
    -config <path>      Configuration file (toml, json or yaml)

EXAMPLES:
    proctord check -config ~/.config/proctord/config.toml
    proctord keywords -text "Open Slack now"
    proctord journal -n 50
    proctord journal -verify

ENVIRONMENT:
    PROCTORD_CHANNEL_URL      Observer endpoint
    PROCTORD_CHANNEL_TOKEN    Bearer token for the observer
    PROCTORD_LOG_LEVEL        debug, info, warn or error
    PROCTORD_JOURNAL_PATH     Journal database path
    PROCTORD_DATA_DIR         Base data directory`)
}
