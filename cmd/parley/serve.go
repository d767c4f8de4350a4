package main

import (
	"github.com/entrhq/parley/pkg/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the conversation engine over HTTP until interrupted.

Endpoints:
  POST /api/generate  {"session_id": "...", "user_input": "..."}
  POST /api/clear     {"session_id": "..."}
  GET  /health`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	orch, store, err := buildEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(orch,
		server.WithAddr(addr),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	cmd.Printf("parley v%s listening on %s\n", version, addr)
	return srv.Run(cmd.Context())
}
