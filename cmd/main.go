package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"therapycal/internal/caldav"
	"therapycal/internal/config"
	"therapycal/internal/google"
	"therapycal/internal/memcal"
	"therapycal/internal/session"
	"therapycal/internal/shell"
	"therapycal/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "therapycal",
		Usage: "Manage therapy appointments and mirror them to an external calendar.",
		Commands: []*cli.Command{
			authCommand(),
			sessionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := google.TokenFile(accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)

			client, err := google.NewClient(c.Context, logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), accountName, "", time.UTC)
			if err != nil {
				return err
			}
			calendars, err := client.ListCalendars(c.Context)
			if err != nil {
				logger.Warn("Could not list calendars", "error", err)
				return nil
			}
			fmt.Println("Calendars available as GOOGLE_CALENDAR_ID:")
			for _, id := range calendars {
				fmt.Println("  " + id)
			}
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Open an interactive appointment session.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "import", Usage: "Seed the session from an iCalendar file."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Sync every N seconds while connected."},
		},
		Action: func(c *cli.Context) error {
			var interval time.Duration
			if c.IsSet("watch") {
				var err error
				if interval, err = watchInterval(c.Int("watch")); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := setupLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			calendar, err := newCalendar(ctx, logger, cfg)
			if err != nil {
				return err
			}
			state, closeState, err := newStateStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeState()

			st := store.New(logger, store.Options{
				Calendar:    calendar,
				State:       state,
				Viewer:      cfg.Viewer,
				Location:    cfg.Location,
				CallTimeout: cfg.SyncTimeout,
				Retries:     cfg.SyncRetries,
				HoldWindow:  cfg.SyncHold,
			})
			if err := st.Restore(ctx); err != nil {
				return err
			}

			if path := c.String("import"); path != "" {
				created, err := shell.ImportFile(ctx, st, cfg.Viewer, path, cfg.Location)
				if err != nil {
					logger.Warn("Some events could not be imported", "file", path, "error", err)
				}
				logger.Info("Seeded session from file.", "file", path, "count", len(created))
			}

			if st.Connected() {
				if err := st.Sync(ctx); err != nil {
					logger.Error("Initial sync failed", "error", err)
				}
			}

			// --watch keeps the session in step with remote edits
			if interval > 0 {
				logger.Info("Starting watcher.", "interval", interval)
				go watch(ctx, logger, st, interval)
			}

			return shell.New(logger, st, cfg.Viewer, cfg.Location).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

// watchInterval converts the --watch value. The ticker needs a positive
// period.
func watchInterval(seconds int) (time.Duration, error) {
	if seconds < 1 {
		return 0, fmt.Errorf("--watch must be at least 1 second, got %d", seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func watch(ctx context.Context, logger *slog.Logger, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !st.Connected() {
				continue
			}
			if err := st.Sync(ctx); err != nil {
				logger.Error("Sync cycle failed", "error", err)
			}
		}
	}
}

// newCalendar builds the external calendar selected by CALENDAR_PROVIDER.
func newCalendar(ctx context.Context, logger *slog.Logger, cfg config.Config) (store.Calendar, error) {
	switch cfg.Provider {
	case config.ProviderGoogle:
		account := cfg.Google.Account
		if account == "" {
			accounts, err := google.GetTokenAccounts(".")
			if err != nil {
				return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
			}
			if len(accounts) != 1 {
				return nil, fmt.Errorf("found %d google accounts, set GOOGLE_ACCOUNT or run the 'auth' command", len(accounts))
			}
			account = accounts[0]
		}
		client, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, account, cfg.Google.CalendarID, cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		logger.Info("Initialized Google calendar.", "account", account, "calendarID", cfg.Google.CalendarID)
		return client, nil
	case config.ProviderCalDAV:
		client, err := caldav.NewClient(ctx, logger, cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName, cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil
	}
	logger.Info("Using in-memory calendar, nothing leaves this process.")
	return memcal.New(cfg.Location), nil
}

// newStateStore builds the session state backend selected by STATE_BACKEND.
func newStateStore(ctx context.Context, cfg config.Config) (store.StateStore, func(), error) {
	switch cfg.StateBackend {
	case config.StateRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return session.NewRedis(rdb, cfg.Viewer.ID, 30*24*time.Hour), func() { rdb.Close() }, nil
	case config.StateMemory:
		return &session.Memory{}, func() {}, nil
	}
	return session.NewFile(cfg.StateFile), func() {}, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
