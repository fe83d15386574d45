// Package main is a command-line client for a metadata node's HTTP API.
//
// Usage:
//
//	metactl [-addr URL] [-timeout D] <command> [args]
//
// Commands:
//
//	get <shard> [-type T] [-meta-shard N]   print a record
//	create <file|->                         create from a JSON record
//	put <file|->                            replace from a JSON record
//	delete <file|->                         delete the record
//	claim <shard> -node N [-lease D]        make N the home node
//	release <shard> -node N                 give up N's lease
//	info                                    node counters and peer health
//	registry                                meta shard placement
//	assign <bucket> <node>                  place a registry bucket on node
//	unassign <bucket>                       leave a registry bucket unplaced
//	peers                                   peers and their health
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// errStatus reports a request that completed with a non-success status.
var errStatus = errors.New("operation failed")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "metactl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("metactl", flag.ContinueOnError)
	addr := fs.String("addr", getenv("SHARDMETA_ADDR", "http://127.0.0.1:8081"), "node base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := &client{base: *addr, out: stdout}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "get":
		return c.get(ctx, rest)
	case "create", "put", "delete":
		return c.write(ctx, cmd, rest, stdin)
	case "claim":
		return c.claim(ctx, rest)
	case "release":
		return c.release(ctx, rest)
	case "info":
		return c.show(ctx, "/info")
	case "registry":
		return c.show(ctx, "/registry")
	case "assign":
		return c.assign(ctx, rest)
	case "unassign":
		return c.unassign(ctx, rest)
	case "peers":
		return c.show(ctx, "/peers")
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
