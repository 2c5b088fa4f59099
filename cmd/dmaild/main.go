// Command dmaild runs the components of a dmaild deployment and the tools
// that talk to them.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

const usage = `usage: dmaild <subcommand> [flags]

servers:
  transfer     accept mail and relay it to mailbox servers
  mailbox      store mail for one domain and serve it over DMAP
  nameserver   serve the root or one zone of the naming tree

tools:
  keygen       generate an RSA key pair for a component
  send         submit a message to a transfer server
  fetch        read a mailbox over DMAP
  lookup       query the naming tree
`

func main() {
	// Dispatch to a subcommand before flag parsing so the chosen function
	// owns its flags.
	var subcommand string
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	defer memguard.Purge()

	var err error
	switch subcommand {
	case "transfer", "mailbox", "nameserver":
		err = runServer(subcommand, os.Args[1:])
	case "keygen":
		err = runKeygen(os.Args[1:])
	case "send":
		err = runSend(os.Args[1:])
	case "fetch":
		err = runFetch(os.Args[1:])
	case "lookup":
		err = runLookup(os.Args[1:])
	case "":
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n%s", subcommand, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmaild %s: %v\n", subcommand, err)
		memguard.Purge()
		os.Exit(1)
	}
}
