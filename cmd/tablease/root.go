package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/dgnsrekt/tablease/internal/client"
	"github.com/dgnsrekt/tablease/internal/config"
	"github.com/dgnsrekt/tablease/internal/connect"
	"github.com/dgnsrekt/tablease/internal/logging"
	"github.com/dgnsrekt/tablease/internal/types"
)

// globalState is shared by every subcommand.
type globalState struct {
	cfg     *config.ClientConfig
	stdout  io.Writer
	stderr  io.Writer
	timeout time.Duration
	raw     bool

	// dial is replaced in tests.
	dial func(ctx context.Context, gs *globalState) (*client.Client, error)
}

func newGlobalState() *globalState {
	return &globalState{stdout: os.Stdout, stderr: os.Stderr, dial: dialBroker}
}

func dialBroker(ctx context.Context, gs *globalState) (*client.Client, error) {
	return client.Dial(ctx, connect.Options{
		SocketPath: gs.cfg.SocketPath,
		BrokerBin:  gs.cfg.BrokerBin,
		AutoStart:  gs.cfg.AutoStart,
	}, gs.cfg.SessionID)
}

func newRootCommand(gs *globalState) *cobra.Command {
	var (
		socket    string
		session   string
		noStart   bool
		verbosity string
	)
	root := &cobra.Command{
		Use:           "tablease",
		Short:         "Lease browser tabs and drive them through the tablease broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.SocketPath = socket
			}
			if session != "" {
				cfg.SessionID = session
			}
			if noStart {
				cfg.AutoStart = false
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = verbosity
			}
			gs.cfg = cfg
			// The CLI keeps stdout for results and logs to the file only.
			return logging.Setup(cfg.LogLevel, cfg.LogFile, io.Discard)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&socket, "socket", "", "broker socket path (default $TABLEASE_SOCKET)")
	flags.StringVarP(&session, "session", "s", "", "session id (default $TABLEASE_SESSION_ID or a random UUID)")
	flags.BoolVar(&noStart, "no-start", false, "do not start the broker when it is not running")
	flags.DurationVar(&gs.timeout, "timeout", 90*time.Second, "overall request timeout")
	flags.BoolVar(&gs.raw, "raw", false, "print compact JSON")
	flags.StringVar(&verbosity, "log-level", "info", "log level for the CLI log file")

	root.AddCommand(
		getCmdStatus(gs),
		getCmdClaims(gs),
		getCmdClaim(gs),
		getCmdRelease(gs),
		getCmdTabs(gs),
		getCmdTool(gs),
		getCmdTools(gs),
	)
	return root
}

// withClient dials the broker, runs fn and closes the session.
func (gs *globalState) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) (any, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), gs.timeout)
	defer cancel()
	c, err := gs.dial(ctx, gs)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	slog.Debug("session connected", "session", c.SessionID(), "command", cmd.Name())

	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return gs.print(out)
}

func (gs *globalState) print(v any) error {
	var data []byte
	switch x := v.(type) {
	case json.RawMessage:
		data = x
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	if gs.raw {
		data = pretty.Ugly(data)
		data = append(data, '\n')
	} else {
		data = pretty.Pretty(data)
	}
	_, err := gs.stdout.Write(data)
	return err
}

func main() {
	gs := newGlobalState()
	if err := newRootCommand(gs).ExecuteContext(context.Background()); err != nil {
		code := types.ErrorCode(err)
		fmt.Fprintf(gs.stderr, "tablease: %s (%s)\n", err, code)
		os.Exit(1)
	}
}
