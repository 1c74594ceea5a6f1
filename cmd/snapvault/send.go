package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapvault/internal/config"
	"snapvault/internal/session"
)

var (
	sendURL     string
	sendTimeout time.Duration

	sendCmd = &cobra.Command{
		Use:   "send <command>",
		Short: "Send one control command to a running server",
		Long: `Dials the control endpoint, sends one command such as "START_SCAN:60",
"GET LIST" or "OVERWRITE:3", and prints the replies. Telemetry frames are
not printed.`,
		Example: `  snapvault send "GET LIST"
  snapvault send --url ws://phone:8080/scan START_SCAN:30`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSend,
	}
)

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "", "Control endpoint (default: derived from the config listen address)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "Maximum wait between reply frames; MEMORY telemetry does not extend it, so raise it for long restores")
}

func runSend(cmd *cobra.Command, args []string) error {
	endpoint := sendURL
	if endpoint == "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		endpoint = endpointFor(cfg.Listen)
	}

	replies, err := session.Send(cmd.Context(), endpoint, strings.Join(args, " "), sendTimeout)
	for _, reply := range replies {
		fmt.Fprintln(cmd.OutOrStdout(), reply)
	}
	return err
}

// endpointFor turns a listen address into a local websocket URL.
func endpointFor(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = "localhost", "8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/scan"}
	return u.String()
}
