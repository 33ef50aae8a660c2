// Command hubctl is a thin client for poking at a running hubd: issue one
// request or publish one message over the wire protocol and print the
// result. Argument parsing itself is out of scope (§1); this mirrors
// cmd/rig/main.go's small os.Args-dispatch shape rather than building out
// a real CLI framework.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/transport"
	"github.com/hubmesh/hub/wire"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "call":
		err = runCall(os.Args[2:])
	case "publish":
		err = runPublish(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "hubctl: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hubctl <command> [flags]

Commands:
  call <addr> <path> [payload-json]     Issue a request against a running hub
  publish <addr> <topic> [payload-json] Publish a message to a running hub

Run 'hubctl <command> --help' for command-specific flags.
`)
}

func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: hubctl call <addr> <path> [payload-json]")
	}
	addr, path := rest[0], rest[1]
	var payload json.RawMessage
	if len(rest) > 2 {
		payload = json.RawMessage(rest[2])
	}

	link, err := dial(addr)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp := link.Request(ctx, wire.Request{
		RequestID: uuid.NewString(),
		Path:      path,
		Payload:   payload,
		SenderID:  "hubctl",
	})
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if resp.Status == wire.StatusError || resp.Status == wire.StatusNotFound {
		os.Exit(1)
	}
	return nil
}

func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: hubctl publish <addr> <topic> [payload-json]")
	}
	addr, topic := rest[0], rest[1]
	var payload json.RawMessage
	if len(rest) > 2 {
		payload = json.RawMessage(rest[2])
	}

	link, err := dial(addr)
	if err != nil {
		return err
	}
	defer link.Close()

	return link.Publish(wire.Message{Topic: topic, Payload: payload, SenderID: "hubctl"})
}

func dial(addr string) (*hub.Link, error) {
	ch, err := transport.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return hub.NewLink(ch, "hubctl", hub.LinkHandlers{}), nil
}
