package cli

import (
	"encoding/json"

	"github.com/druarnfield/composer-trigger/internal/trigger"
	"github.com/spf13/cobra"
)

func newFireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire <bucket> <object>",
		Short: "Trigger one DAG run for an object",
		Long: "Run a single invocation as if a notification for bucket/object had arrived and print the result. " +
			"Rejected or failed requests are reported in the result; only configuration and credential errors exit non-zero.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")

			dt, err := newDagTrigger(token)
			if err != nil {
				return err
			}

			res, err := dt.Handle(cmd.Context(), trigger.StorageEvent{Bucket: args[0], Name: args[1]})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().String("token", "", "use this bearer token instead of Google credentials")

	return cmd
}
