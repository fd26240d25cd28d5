package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/replicator"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fanout-node",
	Short: "Development stub node for exercising the replication protocol",
	Long: `fanout-node answers the Fanout replication protocol: verification-round
requests receive 150 (or 417 for refused paths), everything else is echoed
back as JSON. Intended for local development and protocol testing only.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().String("listen", ":8080", "Address to listen on")
	rootCmd.Flags().String("node-id", "node-1", "Identifier reported in echo responses")
	rootCmd.Flags().StringArray("refuse", nil, "URI paths to refuse during verification (repeatable)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	nodeID, _ := cmd.Flags().GetString("node-id")
	refuse, _ := cmd.Flags().GetStringArray("refuse")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{Level: log.Level(logLevel), Output: os.Stderr})
	logger := log.WithNode(nodeID)

	refused := make(map[string]bool, len(refuse))
	for _, p := range refuse {
		refused[p] = true
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get(replicator.HeaderVerifyIntent) == replicator.VerifyIntentContinue {
			if refused[req.URL.Path] {
				logger.Info().Str("path", req.URL.Path).Msg("refusing verification")
				w.WriteHeader(http.StatusExpectationFailed)
				fmt.Fprintf(w, "node %s refuses %s", nodeID, req.URL.Path)
				return
			}

			logger.Debug().Str("path", req.URL.Path).Msg("accepting verification")
			w.WriteHeader(replicator.StatusNodeContinue)
			return
		}

		if err := req.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		logger.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("transaction_id", req.Header.Get(replicator.HeaderTransactionID)).
			Msg("echoing request")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"node":          nodeID,
			"method":        req.Method,
			"path":          req.URL.Path,
			"params":        req.Form,
			"transactionId": req.Header.Get(replicator.HeaderTransactionID),
		})
	})

	logger.Info().Str("listen", listen).Msg("stub node listening")
	return http.ListenAndServe(listen, r)
}
