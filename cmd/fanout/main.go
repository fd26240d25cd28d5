package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fanout/pkg/config"
	"github.com/cuemby/fanout/pkg/events"
	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/replicator"
	"github.com/cuemby/fanout/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Fanout - cluster-wide HTTP request replication",
	Long: `Fanout replicates a single API call to every data-plane node in a
cluster, gathers the individual responses, and merges them into one answer.

Mutating requests run a two-phase commit: every node must accept the
request before it is applied anywhere.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fanout version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(replicateCmd)

	replicateCmd.Flags().String("config", "fanout.yaml", "Path to the cluster configuration file")
	replicateCmd.Flags().String("method", "GET", "HTTP method to replicate")
	replicateCmd.Flags().String("uri", "", "Absolute request URI (host/port are rewritten per node)")
	replicateCmd.Flags().StringArray("param", nil, "Request parameter as key=value (repeatable)")
	replicateCmd.Flags().StringArray("header", nil, "Request header as key=value (repeatable)")
	replicateCmd.Flags().String("body", "", "Request body")
	replicateCmd.Flags().Bool("no-verify", false, "Skip the verification round for mutating requests")
	replicateCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for all node responses")
	replicateCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Replicate one request to every configured node",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		method, _ := cmd.Flags().GetString("method")
		rawURI, _ := cmd.Flags().GetString("uri")
		rawParams, _ := cmd.Flags().GetStringArray("param")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")
		body, _ := cmd.Flags().GetString("body")
		noVerify, _ := cmd.Flags().GetBool("no-verify")
		wait, _ := cmd.Flags().GetDuration("wait")
		logLevel, _ := cmd.Flags().GetString("log-level")

		log.Init(log.Config{Level: log.Level(logLevel), Output: os.Stderr})

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		nodes := cfg.NodeList()
		if len(nodes) == 0 {
			return fmt.Errorf("no nodes configured in %s", configPath)
		}

		uri, err := url.Parse(rawURI)
		if err != nil {
			return fmt.Errorf("invalid URI %q: %w", rawURI, err)
		}

		params := url.Values{}
		for _, p := range rawParams {
			key, value, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid parameter %q, expected key=value", p)
			}
			params.Add(key, value)
		}

		headers := http.Header{}
		for _, h := range rawHeaders {
			key, value, ok := strings.Cut(h, "=")
			if !ok {
				return fmt.Errorf("invalid header %q, expected key=value", h)
			}
			headers.Add(key, value)
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		// Surface operator warnings on stderr while we wait
		sub := broker.Subscribe()
		go func() {
			for event := range sub {
				fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", event.Severity, event.Category, event.Message)
			}
		}()

		rep, err := replicator.New(cfg, replicator.Options{
			Directory: types.NewStaticDirectory(nodes),
			Reporter:  broker,
		})
		if err != nil {
			return err
		}

		if err := rep.Start(); err != nil {
			return err
		}
		defer rep.Stop()

		var bodyBytes []byte
		if body != "" {
			bodyBytes = []byte(body)
		}

		agg, err := rep.Replicate(nodes, strings.ToUpper(method), uri, params, bodyBytes, headers, !noVerify)
		if err != nil {
			return err
		}

		select {
		case <-agg.Done():
		case <-time.After(wait):
			return fmt.Errorf("timed out after %s waiting for %d node responses", wait, len(nodes))
		}

		merged, err := agg.Consume()
		if err != nil {
			return err
		}

		fmt.Printf("Status: %d\n", merged.Status)
		if len(merged.Body) > 0 {
			fmt.Println(string(merged.Body))
		}
		return nil
	},
}
