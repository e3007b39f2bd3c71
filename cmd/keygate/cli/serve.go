package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

const banner = `
 _  __           ____       _
| |/ /___ _   _ / ___| __ _| |_ ___
| ' // _ \ | | | |  _ / _` + "`" + ` | __/ _ \
| . \  __/ |_| | |_| | (_| | ||  __/
|_|\_\___|\__, |\____|\__,_|\__\___|
          |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keygate API server",
		Long:  "Start the HTTP server that validates license checks and exposes the admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development mode (verbose logging, in-memory store, generated secrets)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	switch viper.GetString("logging.level") {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if dev {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if viper.GetString("logging.format") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// Store. Dev mode runs fully in memory.
	driver := viper.GetString("database.driver")
	dsn := viper.GetString("database.dsn")
	if driver == "" {
		driver = store.DriverSQLite
	}
	if dev {
		driver, dsn = store.DriverSQLite, ""
	}
	st, err := store.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store initialized", "driver", driver)

	recorder := audit.NewRecorder(st, logger)

	// The response signing secret is mandatory: without it clients cannot
	// trust any verdict. Dev mode generates a throwaway one.
	signingSecret := viper.GetString("signing.secret")
	if signingSecret == "" {
		if !dev {
			return fmt.Errorf("signing.secret is not configured (set KEYGATE_SIGNING_SECRET or signing.secret in keygate.yaml)")
		}
		signingSecret, err = randomSecret()
		if err != nil {
			return err
		}
		logger.Warn("dev mode: using a generated signing secret, verdicts will not verify across restarts")
	}
	signer, err := service.NewSigner(signingSecret)
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}

	sessionSecret := viper.GetString("auth.session_secret")
	if sessionSecret == "" {
		if !dev {
			return fmt.Errorf("auth.session_secret is not configured (set KEYGATE_AUTH_SESSION_SECRET or auth.session_secret in keygate.yaml)")
		}
		sessionSecret, err = randomSecret()
		if err != nil {
			return err
		}
		logger.Warn("dev mode: using a generated session secret, operator sessions will not survive restarts")
	}

	sessionTTL := durationSetting("auth.session_ttl", 24*time.Hour)
	authSvc := service.NewAuthService(st, recorder, sessionSecret, sessionTTL)
	engine := service.NewLicenseService(st, recorder, logger)

	hasUser, err := st.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for operators", "error", err)
	}
	if !hasUser {
		logger.Warn("no operator account found - run: keygate user create")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.SessionTTL = sessionTTL
	srvCfg.Version = versionString()
	srvCfg.ShutdownTimeout = durationSetting("server.shutdown_timeout", srvCfg.ShutdownTimeout)
	if limit := viper.GetInt("server.check_rate_limit"); limit > 0 {
		srvCfg.CheckRateLimit = limit
	}
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}

	srv := server.New(srvCfg, st, engine, signer, authSvc, recorder, logger)

	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Check:   http://%s:%d/api/v1/check\n", host, port)
	fmt.Printf("→ OpenAPI: http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
