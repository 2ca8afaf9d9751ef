package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fredis "github.com/gofiber/storage/redis/v3"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/nominal-hq/qbo-gateway/config"
	"github.com/nominal-hq/qbo-gateway/internal/accounts"
	"github.com/nominal-hq/qbo-gateway/internal/handlers"
	"github.com/nominal-hq/qbo-gateway/internal/middlewares"
	"github.com/nominal-hq/qbo-gateway/internal/oauth"
	"github.com/nominal-hq/qbo-gateway/internal/repository"
	"github.com/nominal-hq/qbo-gateway/internal/store"
	"github.com/nominal-hq/qbo-gateway/model"
	"github.com/nominal-hq/qbo-gateway/params"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "QuickBooks Online integration gateway"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
	}
	app.Action = run
}

func initLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func initDatabase(cfg *config.MysqlConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.ConnStr), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if err := db.AutoMigrate(model.Models...); err != nil {
		return nil, err
	}
	return db, nil
}

// makeStateStore keeps auth state nonces in redis when configured so issued
// states survive restarts and are shared across replicas.
func makeStateStore(cfg *config.RedisConfig) store.Store[oauth.StateNonce] {
	if cfg.URL != "" {
		storage := fredis.New(fredis.Config{URL: cfg.URL})
		return store.NewRedisStore[oauth.StateNonce](storage.Conn(), "authstate:")
	}
	return store.NewMemoryStore[oauth.StateNonce]()
}

func run(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return err
	}
	initLogger(cfg.Debug || ctx.IsSet(debugFlag.Name))

	db, err := initDatabase(&cfg.Mysql)
	if err != nil {
		slog.Error("Could not initialize database.", "error", err)
		return err
	}

	httpClient := &http.Client{Timeout: params.ProviderRequestTimeout}
	oauthClient := oauth.NewClient(&cfg.OAuth, httpClient)
	stateIssuer := oauth.NewStateIssuer(cfg.OAuth.StateSecret, makeStateStore(&cfg.Redis))
	tokenRepo := repository.NewTokenRepository(db)
	accountService := accounts.NewAccountService(tokenRepo, oauthClient, cfg.QuickBooks.APIBaseURL, httpClient)

	authHandler := handlers.NewAuthHandler(oauthClient, stateIssuer, tokenRepo)
	accountsHandler := handlers.NewAccountsHandler(accountService, cfg.QuickBooks.SandboxRealmID)

	router := fiber.New(fiber.Config{
		BodyLimit:    params.ServerBodyLimit,
		IdleTimeout:  params.ServerIdleTimeout,
		ReadTimeout:  params.ServerReadTimeout,
		WriteTimeout: params.ServerWriteTimeout,
		ErrorHandler: middlewares.ErrorHandler,
	})
	router.Use(cors.New())

	router.Get("/", handlers.GetIndex)
	auth := router.Group("/auth")
	auth.Get("/quickbooks", authHandler.GetQuickBooksAuth)
	auth.Get("/callback", authHandler.GetCallback)
	router.Get("/callback", authHandler.GetCallback)
	router.Get("/accounts/accounts", accountsHandler.GetAccounts)

	slog.Info("Starting QuickBooks gateway", "address", cfg.ListenAddr)
	return router.Listen(cfg.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
