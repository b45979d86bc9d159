package cli

import (
	"fmt"

	"github.com/druarnfield/composer-trigger/internal/trigger"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Check that WEBSERVER_ID, DAG_NAME and CLIENT_ID are set and print the dag_runs endpoint. No network calls are made.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Composer.Validate(); err != nil {
				return err
			}
			target, err := trigger.DagRunURL(cfg.Composer)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if cfg.Path() != "" {
				fmt.Fprintf(w, "config:   %s\n", cfg.Path())
			}
			fmt.Fprintf(w, "dag:      %s\n", cfg.Composer.DAGName)
			fmt.Fprintf(w, "audience: %s\n", cfg.Composer.ClientID)
			fmt.Fprintf(w, "endpoint: %s\n", target)
			fmt.Fprintf(w, "timeout:  %s\n", cfg.Timeout())
			return nil
		},
	}
}
