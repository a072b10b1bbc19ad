package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jolby/TiREPL/internal/config"
	"github.com/jolby/TiREPL/internal/replclient"
	"github.com/jolby/TiREPL/internal/wire"
)

type connectFlags struct {
	addr    string
	message bool
	timeout time.Duration
}

func newConnectCmd(root *rootOptions) *cobra.Command {
	flags := &connectFlags{}
	cmd := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Open an interactive session against a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := flags.addr
			if len(args) == 1 {
				addr = args[0]
			}
			if addr == "" {
				cfg, err := config.Load(root.configPath)
				if err != nil {
					return err
				}
				host := cfg.ListenHost
				if host == "" {
					host = "127.0.0.1"
				}
				addr = net.JoinHostPort(host, strconv.Itoa(cfg.ListenPort))
			}

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return connect(cmd.Context(), addr, flags, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "server address (default from config)")
	cmd.Flags().BoolVar(&flags.message, "message", false, "send each line as a /message envelope and print the decoded response")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "wait for each reply")
	return cmd
}

// connect relays lines from in to the server and replies to out until in is
// exhausted or the user quits.
func connect(ctx context.Context, addr string, flags *connectFlags, in io.Reader, out io.Writer, interactive bool) error {
	cfg := replclient.DefaultConfig()
	if flags.timeout > 0 {
		cfg.ReadTimeout = flags.timeout
	}
	client, err := replclient.Dial(ctx, addr, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintln(out, client.Greeting())

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, wire.Prompt)
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if cmd := wire.Classify(line); cmd.Kind == wire.CommandQuit {
			bye, err := client.Quit()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, bye)
			return nil
		}

		if flags.message {
			if err := printMessage(client, line, out); err != nil {
				return err
			}
			continue
		}

		lines, err := client.Exchange(line)
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	if client.State() == replclient.StateConnected {
		if _, err := client.Quit(); err != nil {
			return err
		}
	}
	return nil
}

func printMessage(client *replclient.Client, src string, out io.Writer) error {
	resp, err := client.Message(src)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
