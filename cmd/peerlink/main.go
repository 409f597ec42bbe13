package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sheerbytes/peerlink/internal/config"
	"github.com/sheerbytes/peerlink/internal/termio"
)

const (
	version = "v0.3.0"
	banner  = `
 ___  ___ ___ ___ _    ___ _  _ _  __
| _ \| __| __| _ \ |  |_ _| \| | |/ /
|  _/| _|| _||   / |__ | || .' | ' <
|_|  |___|___|_|_\____|___|_|\_|_|\_\
peerlink ` + version + `
Direct chat and file transfer between two hosts.
`
)

func main() {
	termio.Init()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defer termio.Flush()

	if hasVersionFlag(args) {
		printBanner()
		return 0
	}
	mode := modeInteractive
	if len(args) > 0 {
		switch args[0] {
		case "host":
			mode, args = modeHost, args[1:]
		case "connect":
			mode, args = modeConnect, args[1:]
		case "help":
			printUsage()
			return 0
		default:
			if len(args[0]) == 0 || args[0][0] != '-' {
				fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", args[0])
				printUsage()
				return 2
			}
		}
	}
	if hasHelpFlag(args) {
		printUsage()
		return 0
	}

	cfg, err := config.ParsePeerConfig("peerlink", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(termio.Stderr(), "invalid configuration: %v\n", err)
		return 2
	}
	if mode == modeInteractive && isTTY(termio.StdoutFile()) {
		printBanner()
	}
	return runPeer(mode, cfg)
}

func printBanner() {
	fmt.Fprint(termio.Stdout(), banner)
}

func printUsage() {
	w := termio.Stderr()
	fmt.Fprintln(w, "usage: peerlink [command] [flags] [address]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  host      wait for a peer and print the secret it must present")
	fmt.Fprintln(w, "  connect   join a host at <address>[:port]")
	fmt.Fprintln(w, "  (none)    ask interactively")
	fmt.Fprintln(w, "flags:")
	fmt.Fprintln(w, "  --bind ADDR               local address to advertise (default: auto-detect)")
	fmt.Fprintln(w, "  --port N                  chat port (default 5000)")
	fmt.Fprintln(w, "  --file-port N             file transfer port (default 5001)")
	fmt.Fprintln(w, "  --recv-dir DIR            directory for received files (default received_files)")
	fmt.Fprintln(w, "  --chunk-size N            transfer chunk size in bytes (default 4096)")
	fmt.Fprintln(w, "  --secret-bytes N          random bytes in the generated secret (default 4)")
	fmt.Fprintln(w, "  --file-transport KIND     tcp or quic (default tcp); both peers must match")
	fmt.Fprintln(w, "  --stun-server HOST:PORT   STUN server for public IP lookup (repeatable)")
	fmt.Fprintln(w, "  --tunnel                  print a serveo.net reverse tunnel command when hosting")
	fmt.Fprintln(w, "  --log-level LEVEL         debug, info, warn, error (default error)")
	fmt.Fprintln(w, "chat commands:")
	fmt.Fprintln(w, "  /sendfile <path>  /status  /help  /quit")
	fmt.Fprintln(w, "quick examples:")
	fmt.Fprintln(w, "  peerlink host")
	fmt.Fprintln(w, "  peerlink connect 192.168.1.20")
	fmt.Fprintln(w, "  peerlink connect --port 6000 abc.serveo.net:6000")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

func isTTY(f *os.File) bool {
	return termio.IsTerminal(f)
}
