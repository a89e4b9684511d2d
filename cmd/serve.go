package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/richinsley/comfyrunner/internal/config"
	"github.com/richinsley/comfyrunner/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve job requests over HTTP",
	Long: `Serve job requests over HTTP.

  POST /run      body {"input": {...}}, answers with the job response
  POST /runsync  same input, answers with {"id", "status", "output"}
  GET  /health   process liveness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, h, err := newWorker(queueCallbacks())
		if err != nil {
			return err
		}
		startWatcher(ctx, c)

		return server.Serve(ctx, config.Instance.Server.Address, server.New(h))
	},
}

func init() {
	serveCmd.Flags().String("address", ":8080", "listen address")
	config.Viper().BindPFlag("server.address", serveCmd.Flags().Lookup("address"))
}
