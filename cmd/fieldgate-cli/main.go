// Command fieldgate-cli is an interactive shell against a running
// fieldgate daemon.
//
// Usage:
//
//	fieldgate-cli [flags]
//
// Flags:
//
//	-server string  Daemon base URL (default "http://localhost:8420")
//
// Commands inside the shell:
//
//	protocols                          list registered protocols
//	devices                            list registered devices
//	register <file.json>               register a device from a descriptor file
//	read <device-id> <parameter>       read a parameter
//	write <device-id> <parameter> <v>  write a parameter
//	context <device-id>                show the cached device context
//	troubleshoot <device-id> <code>    resolve an error code
//	help                               show this help
//	exit                               quit
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

var serverURL = flag.String("server", "http://localhost:8420", "Daemon base URL")

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	client := NewClient(*serverURL)
	if err := client.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach daemon at %s: %v\n", *serverURL, err)
		return 1
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "fieldgate> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create readline: %v\n", err)
		return 1
	}
	defer rl.Close()

	printHelp(rl.Stdout())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return 0
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			printHelp(rl.Stdout())

		case "protocols":
			client.cmdProtocols(rl.Stdout())

		case "devices", "list", "ls":
			client.cmdDevices(rl.Stdout())

		case "register":
			client.cmdRegister(rl.Stdout(), args)

		case "read", "r":
			client.cmdRead(rl.Stdout(), args)

		case "write", "w":
			client.cmdWrite(rl.Stdout(), args)

		case "context":
			client.cmdContext(rl.Stdout(), args)

		case "troubleshoot", "ts":
			client.cmdTroubleshoot(rl.Stdout(), args)

		case "exit", "quit", "q":
			return 0

		default:
			fmt.Fprintf(rl.Stdout(), "unknown command %q (try help)\n", cmd)
		}
	}
}

func printHelp(w interface{ Write([]byte) (int, error) }) {
	fmt.Fprint(w, `Commands:
  protocols                          list registered protocols
  devices                            list registered devices
  register <file.json>               register a device from a descriptor file
  read <device-id> <parameter>       read a parameter
  write <device-id> <parameter> <v>  write a parameter
  context <device-id>                show the cached device context
  troubleshoot <device-id> <code>    resolve an error code
  exit                               quit
`)
}
