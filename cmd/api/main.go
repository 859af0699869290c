package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"payrelay/internal/config"
	httpx "payrelay/internal/http"
	middlewarex "payrelay/internal/http/middleware"
	"payrelay/internal/provider/base"
	"payrelay/internal/provider/mpesa"
	"payrelay/internal/services/broadcast"
	"payrelay/internal/services/event"
	paysvc "payrelay/internal/services/payment"
	"payrelay/internal/store/redisstore"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "payrelay",
		Short:   "M-Pesa payment relay: STK push, B2C and live payment outcomes",
		Version: Version,
		RunE:    runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(verifyCredentialsCmd())
	rootCmd.AddCommand(securityCredentialCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket server",
		RunE:  runServe,
	}
}

func verifyCredentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-credentials",
		Short: "Fetch an access token to check the consumer key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := mpesa.New(cfg.Mpesa)
			cred, err := client.Auth.VerifyCredentials(cmd.Context())
			if err != nil {
				return fmt.Errorf("verify credentials: %w", err)
			}
			fmt.Printf("Credentials OK (%s), token valid until %s\n", cfg.Mpesa.BaseURL, cred.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func securityCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security-credential",
		Short: "Encrypt the initiator password with the Daraja certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			certPath, _ := cmd.Flags().GetString("cert")
			if password == "" || certPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if password == "" {
					password = cfg.Mpesa.InitiatorPassword
				}
				if certPath == "" {
					certPath = cfg.Mpesa.CertPath
				}
			}

			cred, err := mpesa.SecurityCredential(config.MpesaCfg{InitiatorPassword: password, CertPath: certPath})
			if err != nil {
				return err
			}
			fmt.Println(cred)
			return nil
		},
	}

	cmd.Flags().StringP("password", "p", "", "Initiator password (default MPESA_INITIATOR_PASSWORD)")
	cmd.Flags().StringP("cert", "c", "", "Path to the Daraja public certificate (default MPESA_CERT_PATH)")

	return cmd
}

func loadConfig() (config.Cfg, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Cfg{}, err
	}
	setupLogging(cfg.App)
	if err := cfg.Validate(); err != nil {
		return config.Cfg{}, err
	}
	return cfg, nil
}

func setupLogging(app config.AppCfg) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || app.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if app.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Security.Merchants.Len() == 0 {
		log.Warn().Strs("protected_paths", cfg.Security.ProtectedPaths).Msg("MERCHANTS is empty: protected routes will reject every request")
	}

	hub := broadcast.NewHub()

	// Interface-typed so a disabled Redis stays an untyped nil.
	var (
		relay   event.Relay
		deduper event.Deduper
	)
	if cfg.Redis.Enabled() {
		rdb, err := redisstore.Open(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		relay = redisstore.NewRelay(rdb, cfg.Redis.Channel)
		deduper = redisstore.NewDeduper(rdb, cfg.Redis.DedupeTTL)
	} else {
		log.Warn().Msg("REDIS_ADDR not set: callbacks are not deduplicated and outcomes reach local subscribers only")
	}

	processor, worker := event.NewEventProcessingSystem(hub, relay, deduper)
	if worker != nil {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("subscribe outcome relay: %w", err)
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("relay worker stopped")
			}
		}()
	}

	client := mpesa.New(cfg.Mpesa)
	svc := paysvc.NewService(client.Auth, client.Gateway, base.NewRequestValidator(1, 0), processor)

	r := httpx.NewRouter(httpx.RouterDependencies{
		Config:     cfg,
		Payments:   svc,
		TokenAdmin: client.Auth,
		Hub:        hub,
		Guard:      middlewarex.NewGuard(cfg.Security.Merchants, cfg.Security.ProtectedPaths, cfg.Security.ReplayWindow),
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.Mpesa.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("env", cfg.App.Env).
			Strs("merchants", cfg.Security.Merchants.Keys()).
			Bool("redis", cfg.Redis.Enabled()).
			Msg("payrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
	return nil
}
