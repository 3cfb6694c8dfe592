package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Alturino/storefront/internal/common/constants"
	"github.com/Alturino/storefront/internal/log"
)

func Start() {
	logger := log.InitLogger("", "").
		With().
		Str(log.KeyAppName, constants.AppStorefront).
		Str(log.KeyTag, "main Start").
		Logger()

	logger.Info().Msg("adding listener for SIGINT and SIGTERM")
	c, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info().Msg("added listener for SIGINT and SIGTERM")

	c = logger.WithContext(c)

	var configName string
	rootCmd := &cobra.Command{Use: constants.AppStorefront}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storefront cart and checkout server",
		Run: func(cmd *cobra.Command, args []string) {
			runServer(cmd.Context(), configName)
		},
	}
	serveCmd.Flags().StringVarP(&configName, "config", "c", constants.AppStorefront, "config file name under ./env without extension")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.ExecuteContext(c); err != nil {
		logger.Fatal().Err(err).Msgf("error when executing command=%s", err.Error())
	}
}
