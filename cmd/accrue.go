package cmd

import (
	"time"

	"github.com/getsentry/sentry-go"
	appctx "github.com/redpepe-labs/stakemint/libs/context"
	"github.com/redpepe-labs/stakemint/services/staking"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	AccrueCmd.Flags().String("schedule", "",
		"cron schedule to run accrual passes on, runs once and exits when empty")
	Must(viper.BindPFlag("schedule", AccrueCmd.Flags().Lookup("schedule")))
	Must(viper.BindEnv("schedule", "ACCRUAL_SCHEDULE"))

	RootCmd.AddCommand(AccrueCmd)
}

// AccrueCmd runs point accrual over all registered wallets, either as a
// one-shot pass or on a cron schedule
var AccrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "recompute staking points for all registered wallets",
	Run:   AccrueRun,
}

// AccrueRun - command runner for accrual passes
func AccrueRun(command *cobra.Command, args []string) {
	ctx := command.Context()
	logger, err := appctx.GetLogger(ctx)
	Must(err)

	if dsn := viper.GetString("sentry-dsn"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: viper.GetString("environment"),
		})
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup reporting")
		}
		defer sentry.Flush(2 * time.Second)
	}

	chainClient, err := chainClientFromViper()
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("unable to connect chain client")
	}

	db, rodb, err := staking.NewPostgres()
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("unable to connect to staking datastore")
	}

	service, err := staking.InitService(ctx, db, rodb, chainClient, accrualConfigFromViper())
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("staking service initialization failed")
	}

	pass := func() {
		if _, err := service.RunAccrualPass(ctx); err != nil {
			sentry.CaptureException(err)
			logger.Error().Err(err).Msg("accrual pass failed")
		}
	}

	schedule := viper.GetString("schedule")
	if schedule == "" {
		pass()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, pass); err != nil {
		logger.Panic().Err(err).Str("schedule", schedule).Msg("invalid cron schedule")
	}
	logger.Info().Str("schedule", schedule).Msg("accrual scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
