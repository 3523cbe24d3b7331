// wizardctl ウィザードAPIと同じクライアントロジックを使う運用向けCLI
package main

import (
	"fmt"
	"os"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions 全コマンド共通のフラグ
type rootOptions struct {
	apiURL    string
	storePath string
	logLevel  string

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "wizardctl",
		Short: "Operate audiences and export simulation results",
		Long: `wizardctl talks to the audience/simulation backend with the same client
logic the wizard API uses.

Available subcommands:
  audiences - List saved audiences
  watch     - Poll an audience until its segments are generated
  export    - Render result tables and charts as Markdown, XLSX or PNG`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .envは任意
			_ = godotenv.Load()

			logger, err := logging.NewLogger("production", opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "backend base URL (default: API_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.storePath, "store", "", "local state database (default: STORE_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newAudiencesCmd(opts),
		newWatchCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// app フラグで上書きした設定からサービス一式を組み立てる
func (o *rootOptions) app() (*server.App, error) {
	cfg := config.LoadConfig()
	if o.apiURL != "" {
		cfg.APIBaseURL = o.apiURL
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("backend URL is not configured: set API_BASE_URL or --api-url")
	}
	return server.NewApp(cfg, logging.OrNop(o.logger))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
