package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/druarnfield/composer-trigger/internal/config"
	"github.com/druarnfield/composer-trigger/internal/identity"
	"github.com/druarnfield/composer-trigger/internal/secrets"
	"github.com/druarnfield/composer-trigger/internal/trigger"
	"github.com/spf13/cobra"
)

var (
	projectDir   string
	configPath   string
	verbose      bool
	secretsPath  string
	identityPath string

	// Populated in PersistentPreRunE from the config file and environment
	cfg    *config.Config
	logger *slog.Logger

	// Swapped in tests
	lookupEnv config.LookupFunc = os.LookupEnv
	transport http.RoundTripper
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "composer-trigger",
		Short:         "Trigger a Cloud Composer DAG run from storage events",
		Long:          "composer-trigger posts a dag_runs request through the identity-aware proxy for every object notification it receives.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = filepath.Join(projectDir, config.FileName)
			}
			resolved, err := config.Resolve(path, lookupEnv)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			cfg = resolved

			// CLI flags win over the config file
			if secretsPath == "" {
				secretsPath = cfg.Secrets.Path
			}
			if identityPath == "" {
				identityPath = cfg.Secrets.Identity
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "directory searched for "+config.FileName)
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (overrides --project-dir)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().StringVar(&secretsPath, "secrets", "", "path to secrets file (.age files are decrypted)")
	root.PersistentFlags().StringVar(&identityPath, "age-identity", "", "age identity file for encrypted secrets")

	root.AddCommand(
		newValidateCmd(),
		newFireCmd(),
		newServeCmd(),
	)

	return root
}

// newDagTrigger validates the resolved configuration and builds the trigger.
// A non-empty staticToken bypasses Google credentials.
func newDagTrigger(staticToken string) (*trigger.DagTrigger, error) {
	if err := cfg.Composer.Validate(); err != nil {
		return nil, err
	}

	var tokens trigger.TokenProvider
	if staticToken != "" {
		tokens = identity.StaticTokenProvider(staticToken)
	} else {
		store, err := secrets.Load(secretsPath, identityPath)
		if err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
		tokens = identity.NewGoogleTokenProvider(store.Credentials(cfg.Composer.DAGName))
	}

	return trigger.New(cfg.Composer, tokens,
		trigger.WithTimeout(cfg.Timeout()),
		trigger.WithTransport(transport),
		trigger.WithLogger(logger.With("module", "trigger")),
	), nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
