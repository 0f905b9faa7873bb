// mockmcp runs a protocol-faithful mock MCP server for client testing.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mockmcp/mockmcp/pkg/logging"
	"github.com/mockmcp/mockmcp/pkg/mcp"
	"github.com/mockmcp/mockmcp/pkg/scenario"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mockmcp",
		Short:         "Mock MCP server with programmable fault injection",
		Version:       mcp.ServerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		port         int
		path         string
		scenarioPath string
		logLevel     string
		logFormat    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logging.Options{
				Level:  logging.ParseLevel(logLevel),
				Format: logging.ParseFormat(logFormat),
			})

			cfg := mcp.DefaultConfig()
			cfg.Port = port
			cfg.Path = path

			var sc *scenario.Scenario
			if scenarioPath != "" {
				var err error
				sc, err = scenario.Load(scenarioPath)
				if err != nil {
					return err
				}
				sc.Configure(cfg)
			}

			srv := mcp.NewServer(cfg)
			srv.SetLogger(log)
			if sc != nil {
				if h := sc.Handler(); h != nil {
					srv.Tools().Register(h)
				}
			}

			if err := srv.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Info("shutting down")
			return srv.Stop()
		},
	}

	cmd.Flags().IntVar(&port, "port", mcp.DefaultConfig().Port, "TCP port to listen on")
	cmd.Flags().StringVar(&path, "path", "/mcp", "RPC and push-channel endpoint path")
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML scenario file to apply")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	return cmd
}
