package cli

import (
	"os/signal"
	"syscall"

	"github.com/druarnfield/composer-trigger/internal/serve"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive storage events over HTTP",
		Long:  "Listen for Cloud Storage notifications (CloudEvents or background-function JSON) and trigger one DAG run per event.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			if listen == "" {
				listen = cfg.Listen()
			}

			dt, err := newDagTrigger("")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := serve.NewServer(dt, serve.Options{Listen: listen, Logger: logger})
			return srv.Start(ctx)
		},
	}

	cmd.Flags().String("listen", "", "listen address (default from config, PORT, or :8080)")

	return cmd
}
