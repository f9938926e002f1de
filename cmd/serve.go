package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	appctx "github.com/redpepe-labs/stakemint/libs/context"
	"github.com/redpepe-labs/stakemint/libs/middleware"
	"github.com/redpepe-labs/stakemint/services/mint"
	"github.com/redpepe-labs/stakemint/services/staking"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// serve command flags
	ServeCmd.Flags().String("address", ":3333",
		"the default address to bind to")
	Must(viper.BindPFlag("address", ServeCmd.Flags().Lookup("address")))
	Must(viper.BindEnv("address", "ADDR"))

	ServeCmd.Flags().String("mint-price", "1",
		"expected payment per minted token")
	Must(viper.BindPFlag("mint-price", ServeCmd.Flags().Lookup("mint-price")))
	Must(viper.BindEnv("mint-price", "PRICE_PER_UNIT"))

	ServeCmd.Flags().Int64("mint-max-quantity", 10,
		"largest quantity a single purchase may mint")
	Must(viper.BindPFlag("mint-max-quantity", ServeCmd.Flags().Lookup("mint-max-quantity")))
	Must(viper.BindEnv("mint-max-quantity", "MINT_MAX_QUANTITY"))

	ServeCmd.Flags().Duration("confirm-timeout", 2*time.Minute,
		"how long to wait for mint transactions to confirm")
	Must(viper.BindPFlag("confirm-timeout", ServeCmd.Flags().Lookup("confirm-timeout")))
	Must(viper.BindEnv("confirm-timeout", "CONFIRM_TIMEOUT"))

	RootCmd.AddCommand(ServeCmd)
}

// ServeCmd the serve command
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the stakemint apis",
	Run:   ServeRun,
}

func decimalFromViper(key string) decimal.Decimal {
	d, err := decimal.NewFromString(viper.GetString(key))
	Must(err)
	return d
}

func accrualConfigFromViper() staking.Config {
	cfg := staking.DefaultConfig()
	cfg.RatePerToken = decimalFromViper("accrual-rate-per-token")
	cfg.MaxDailyBase = decimalFromViper("accrual-max-daily-base")
	cfg.BonusPerNFT = decimalFromViper("accrual-bonus-per-nft")
	cfg.NFTBonusCap = viper.GetInt64("accrual-nft-bonus-cap")
	cfg.TargetPoints = decimalFromViper("accrual-target-points")
	return cfg
}

func chainClientFromViper() (chain.Client, error) {
	return chain.New(chain.Config{
		RPCURL:          viper.GetString("rpc-url"),
		ChainID:         viper.GetInt64("chain-id"),
		TokenAddress:    viper.GetString("token-address"),
		NFTAddress:      viper.GetString("nft-address"),
		MintAddress:     viper.GetString("mint-address"),
		TreasuryAddress: viper.GetString("treasury-address"),
		MintPrivateKey:  viper.GetString("mint-private-key"),
		ConfirmTimeout:  viper.GetDuration("confirm-timeout"),
	})
}

func setupRouter(ctx context.Context, logger *zerolog.Logger) (context.Context, *chi.Mux) {
	r := chi.NewRouter()
	r.Use(chiware.RequestID)
	r.Use(chiware.RealIP)
	r.Use(chiware.Heartbeat("/"))
	r.Use(chiware.Timeout(30 * time.Second))
	r.Use(middleware.BearerToken)
	if logger != nil {
		// Also handles panic recovery
		r.Use(hlog.NewHandler(*logger))
		r.Use(hlog.UserAgentHandler("user_agent"))
		r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
		r.Use(middleware.RequestLogger(logger))
	}

	chainClient, err := chainClientFromViper()
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("unable to connect chain client")
	}

	stakingDB, stakingRODB, err := staking.NewPostgres()
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("unable to connect to staking datastore")
	}

	stakingService, err := staking.InitService(ctx, stakingDB, stakingRODB, chainClient, accrualConfigFromViper())
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("staking service initialization failed")
	}

	mintDB, err := mint.NewDB(viper.GetString("datastore"), false)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("unable to connect to mint datastore")
	}

	mintService, err := mint.InitService(ctx, mintDB, chainClient, mint.Config{
		PricePerUnit: decimalFromViper("mint-price"),
		MaxQuantity:  viper.GetInt64("mint-max-quantity"),
	})
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("mint service initialization failed")
	}

	ctx = context.WithValue(ctx, appctx.ChainClientCTXKey, chainClient)
	ctx = context.WithValue(ctx, appctx.DatastoreCTXKey, stakingDB)

	r.Mount("/v1/staking", staking.Router(stakingService))
	r.Mount("/v1/mint", mint.Router(mintService))
	r.Get("/metrics", middleware.Metrics())

	r.Get("/health-check", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return ctx, r
}

// ServeRun - command runner for serving the apis
func ServeRun(command *cobra.Command, args []string) {
	ctx := command.Context()
	logger, err := appctx.GetLogger(ctx)
	Must(err)

	if dsn := viper.GetString("sentry-dsn"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: viper.GetString("environment"),
			Release:     ctx.Value(appctx.VersionCTXKey).(string),
		})
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup reporting")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, r := setupRouter(ctx, logger)

	addr := viper.GetString("address")
	logger.Info().Str("addr", addr).Msg("server listening")

	srv := http.Server{
		Addr:        addr,
		Handler:     chi.ServerBaseContext(ctx, r),
		ReadTimeout: 15 * time.Second,
		// claims hold a transaction open while the mint confirms
		WriteTimeout: viper.GetDuration("confirm-timeout") + 30*time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("server caught error")
	}
}
