package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctford/lein-mcp/internal/adapter/outbound/portfile"
	"github.com/ctford/lein-mcp/internal/adapter/outbound/rpcclient"
	"github.com/ctford/lein-mcp/pkg/shared/mcpjsonrpc"
)

type callFlags struct {
	PortFile string
	Addr     string
	Init     bool
	Timeout  time.Duration
	Verbose  bool
}

func newCallCommand() *cobra.Command {
	var flags callFlags

	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send one JSON-RPC request to a running bridge",
		Long: `Send one JSON-RPC request to a running bridge and print the response.

The bridge is found through its port file unless --addr is given.

Example:
  lein-mcp call --init tools/call '{"name":"eval-clojure","arguments":{"code":"(+ 1 2 3)"}}'
  lein-mcp call resources/read '{"uri":"clojure://session/current-ns"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 2 {
				params = json.RawMessage(args[1])
				if !json.Valid(params) {
					return fmt.Errorf("params are not valid JSON: %s", args[1])
				}
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flags, args[0], params)
		},
	}

	cmd.Flags().StringVar(&flags.PortFile, "port-file", ".mcp-port", "File the bridge published its port to")
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "Bridge address (host:port), overrides --port-file")
	cmd.Flags().BoolVar(&flags.Init, "init", false, "Perform the initialize handshake first")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", time.Minute, "Overall request timeout")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Log requests to stderr")

	return cmd
}

func runCall(ctx context.Context, stdout, stderr io.Writer, flags callFlags, method string, params json.RawMessage) error {
	level := slog.LevelWarn
	if flags.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	addr := flags.Addr
	if addr == "" {
		var err error
		if addr, err = portfile.LoopbackAddr(flags.PortFile); err != nil {
			return fmt.Errorf("bridge not found (is `lein-mcp serve` running?): %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	client := rpcclient.New("http://"+addr+"/", &http.Client{}, logger)
	if flags.Init {
		resp, err := client.Initialize(ctx, "lein-mcp-call", version)
		if err != nil {
			return fmt.Errorf("initialize failed: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("initialize rejected: %w", resp.Error)
		}
	}

	var p any
	if params != nil {
		p = params
	}
	resp, err := client.Call(ctx, method, p)
	if err != nil {
		return err
	}
	if err := printResponse(stdout, resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func printResponse(w io.Writer, resp *mcpjsonrpc.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to indent response: %w", err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}
