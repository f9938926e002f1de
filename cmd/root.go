package cmd

import (
	"context"
	"fmt"
	"os"

	appctx "github.com/redpepe-labs/stakemint/libs/context"
	"github.com/redpepe-labs/stakemint/libs/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// RootCmd is the base command (what the binary is called)
	RootCmd = &cobra.Command{
		Use:   "stakemint",
		Short: "stakemint provides the mint storefront and staking claim services",
	}
	ctx = context.Background()
)

// Execute - the main entrypoint for all subcommands in stakemint
func Execute(version, commit, buildTime string) {
	// setup context with logging, but first we need to setup the environment
	var logger *zerolog.Logger
	ctx = context.WithValue(ctx, appctx.EnvironmentCTXKey, viper.Get("environment"))
	ctx = context.WithValue(ctx, appctx.DebugLoggingCTXKey, viper.GetBool("debug"))
	ctx, logger = logging.SetupLogger(ctx)

	ctx = context.WithValue(ctx, appctx.VersionCTXKey, version)
	ctx = context.WithValue(ctx, appctx.CommitCTXKey, commit)
	ctx = context.WithValue(ctx, appctx.BuildTimeCTXKey, buildTime)

	// execute the root cmd
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("./stakemint command encountered an error")
		os.Exit(1)
	}
}

// Must helper to make sure there is no errors
func Must(err error) {
	if err != nil {
		fmt.Printf("failed to initialize: %s\n", err.Error())
		// exit with failure
		os.Exit(1)
	}
}

func init() {
	// env - defaults to local
	RootCmd.PersistentFlags().String("environment", "local",
		"the default environment")
	Must(viper.BindPFlag("environment", RootCmd.PersistentFlags().Lookup("environment")))
	Must(viper.BindEnv("environment", "ENV"))

	// debug logging - defaults to off
	RootCmd.PersistentFlags().Bool("debug", false, "turn on debug logging")
	Must(viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug")))
	Must(viper.BindEnv("debug", "DEBUG"))

	// sentry dsn
	RootCmd.PersistentFlags().String("sentry-dsn", "",
		"the sentry dsn for error reporting")
	Must(viper.BindPFlag("sentry-dsn", RootCmd.PersistentFlags().Lookup("sentry-dsn")))
	Must(viper.BindEnv("sentry-dsn", "SENTRY_DSN"))

	// datastore
	RootCmd.PersistentFlags().String("datastore", "",
		"the datastore connection string")
	Must(viper.BindPFlag("datastore", RootCmd.PersistentFlags().Lookup("datastore")))
	Must(viper.BindEnv("datastore", "DATABASE_URL"))

	// chain configuration
	RootCmd.PersistentFlags().String("rpc-url", "https://api.avax.network/ext/bc/C/rpc",
		"the chain rpc endpoint")
	Must(viper.BindPFlag("rpc-url", RootCmd.PersistentFlags().Lookup("rpc-url")))
	Must(viper.BindEnv("rpc-url", "RPC_URL"))

	RootCmd.PersistentFlags().Int64("chain-id", 43114,
		"the chain id transactions are signed for")
	Must(viper.BindPFlag("chain-id", RootCmd.PersistentFlags().Lookup("chain-id")))
	Must(viper.BindEnv("chain-id", "CHAIN_ID"))

	RootCmd.PersistentFlags().String("token-address", "",
		"the staked token contract address")
	Must(viper.BindPFlag("token-address", RootCmd.PersistentFlags().Lookup("token-address")))
	Must(viper.BindEnv("token-address", "TOKEN_CONTRACT_ADDRESS"))

	RootCmd.PersistentFlags().String("nft-address", "",
		"the companion nft contract address")
	Must(viper.BindPFlag("nft-address", RootCmd.PersistentFlags().Lookup("nft-address")))
	Must(viper.BindEnv("nft-address", "NFT_CONTRACT_ADDRESS"))

	RootCmd.PersistentFlags().String("mint-address", "",
		"the drop contract address minted from")
	Must(viper.BindPFlag("mint-address", RootCmd.PersistentFlags().Lookup("mint-address")))
	Must(viper.BindEnv("mint-address", "MINT_CONTRACT_ADDRESS"))

	RootCmd.PersistentFlags().String("treasury-address", "",
		"the treasury address purchases are paid to")
	Must(viper.BindPFlag("treasury-address", RootCmd.PersistentFlags().Lookup("treasury-address")))
	Must(viper.BindEnv("treasury-address", "TREASURY_ADDRESS"))

	RootCmd.PersistentFlags().String("mint-private-key", "",
		"the signing credential for mint transactions")
	Must(viper.BindPFlag("mint-private-key", RootCmd.PersistentFlags().Lookup("mint-private-key")))
	Must(viper.BindEnv("mint-private-key", "MINT_PRIVATE_KEY"))

	// accrual constants, centralized here rather than duplicated per endpoint
	RootCmd.PersistentFlags().String("accrual-rate-per-token", "0.0003333",
		"daily points earned per token held at snapshot")
	Must(viper.BindPFlag("accrual-rate-per-token", RootCmd.PersistentFlags().Lookup("accrual-rate-per-token")))
	Must(viper.BindEnv("accrual-rate-per-token", "ACCRUAL_RATE_PER_TOKEN"))

	RootCmd.PersistentFlags().String("accrual-max-daily-base", "234.1",
		"cap on the daily base rate before the nft boost")
	Must(viper.BindPFlag("accrual-max-daily-base", RootCmd.PersistentFlags().Lookup("accrual-max-daily-base")))
	Must(viper.BindEnv("accrual-max-daily-base", "ACCRUAL_MAX_DAILY_BASE"))

	RootCmd.PersistentFlags().String("accrual-bonus-per-nft", "0.005",
		"boost fraction added per companion nft held")
	Must(viper.BindPFlag("accrual-bonus-per-nft", RootCmd.PersistentFlags().Lookup("accrual-bonus-per-nft")))
	Must(viper.BindEnv("accrual-bonus-per-nft", "ACCRUAL_BONUS_PER_NFT"))

	RootCmd.PersistentFlags().Int64("accrual-nft-bonus-cap", 50,
		"number of nfts counted toward the boost")
	Must(viper.BindPFlag("accrual-nft-bonus-cap", RootCmd.PersistentFlags().Lookup("accrual-nft-bonus-cap")))
	Must(viper.BindEnv("accrual-nft-bonus-cap", "ACCRUAL_NFT_BONUS_CAP"))

	RootCmd.PersistentFlags().String("accrual-target-points", "6942",
		"accrued points needed for free-mint eligibility")
	Must(viper.BindPFlag("accrual-target-points", RootCmd.PersistentFlags().Lookup("accrual-target-points")))
	Must(viper.BindEnv("accrual-target-points", "ACCRUAL_TARGET_POINTS"))

	RootCmd.AddCommand(VersionCmd)
}

// VersionCmd is the command to get the code's version information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "get the version of this binary",
	Run:   versionRun,
}

func versionRun(command *cobra.Command, args []string) {
	version := command.Context().Value(appctx.VersionCTXKey).(string)
	commit := command.Context().Value(appctx.CommitCTXKey).(string)
	buildTime := command.Context().Value(appctx.BuildTimeCTXKey).(string)
	fmt.Printf("version: %s\ncommit: %s\nbuild time: %s\n",
		version, commit, buildTime,
	)
}
