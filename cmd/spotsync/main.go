package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spotsync/client/internal/apperr"
	"github.com/spotsync/client/internal/config"
	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/observability"
	"github.com/spotsync/client/internal/photo"
	"github.com/spotsync/client/internal/remote"
	"github.com/spotsync/client/internal/store"
	syncengine "github.com/spotsync/client/internal/sync"
	"github.com/spotsync/client/internal/transport"
)

// app wires the client together: config, store, authenticated
// transport, API client and reconciliation engine.
type app struct {
	cfg    *config.Config
	db     *store.DB
	creds  *transport.CredentialStore
	api    *remote.Client
	engine *syncengine.Engine
	log    *observability.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := observability.GetLogger()

	var db *store.DB
	if cfg.UsePostgres() {
		db, err = store.OpenPostgres(cfg.DatabaseURL)
	} else {
		db, err = store.OpenSQLite(cfg.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}

	session := transport.NewSessionFile(cfg.SessionFile, cfg.SessionSecret)
	creds := transport.NewPersistedCredentialStore(session)

	t := transport.NewClient(cfg.ServerURL, creds, transport.Options{
		Timeout: time.Duration(cfg.Sync.RequestTimeoutSeconds) * time.Second,
		OnLogout: func() {
			log.Warn("session expired, logged out")
		},
	})
	api := remote.NewClient(t)

	processor := photo.NewProcessor(cfg.Upload.MaxDimension, cfg.Upload.JPEGQuality)
	engine := syncengine.New(db, api, processor)

	return &app{
		cfg:    cfg,
		db:     db,
		creds:  creds,
		api:    api,
		engine: engine,
		log:    log,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warnf("failed to close store: %v", err)
	}
}

func main() {
	root := &cobra.Command{
		Use:          "spotsync",
		Short:        "Offline-first client for recording and syncing points of interest",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), syncCmd(), loginCmd(), logoutCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background sync daemon (scheduler + change feed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := syncengine.NewScheduler(a.engine, a.cfg.Sync.Schedule)
			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			defer scheduler.Stop()

			if a.cfg.Sync.Watch {
				watcher := syncengine.NewWatcher(a.cfg.ServerURL, a.creds, a.engine)
				go watcher.Run(ctx)
			}

			// Initial pass on startup.
			if _, err := a.engine.TriggerSync(ctx); err != nil {
				a.log.Warnf("startup sync interrupted: %v", err)
			}

			a.log.Info("spotsync daemon running")
			<-ctx.Done()
			a.log.Info("shutting down")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.engine.TriggerSync(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("synced: %d succeeded, %d failed\n", summary.Succeeded, summary.Failed)
			if summary.LastError != nil {
				fmt.Printf("last error: %s\n", apperr.UserMessage(apperr.Classify(summary.LastError)))
			}
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Log in to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Print("Password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			resp, err := a.api.Login(cmd.Context(), args[0], string(password))
			if err != nil {
				return fmt.Errorf("login failed: %s", apperr.UserMessage(apperr.Classify(err)))
			}

			a.creds.Set(models.CredentialPair{
				AccessToken:  resp.AccessToken,
				RefreshToken: resp.RefreshToken,
			})
			if resp.User != nil {
				users := store.NewUserStore(a.db)
				if err := users.UpsertSynced(cmd.Context(), resp.User); err != nil {
					a.log.Warnf("failed to mirror profile locally: %v", err)
				}
			}

			fmt.Printf("logged in as %s\n", args[0])
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			a.creds.Clear()
			users := store.NewUserStore(a.db)
			if err := users.Clear(cmd.Context()); err != nil {
				a.log.Warnf("failed to clear local profile: %v", err)
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending work and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if _, ok := a.creds.Get(); ok {
				fmt.Println("session: logged in")
			} else {
				fmt.Println("session: logged out")
			}

			counts, err := a.engine.PendingCounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read pending counts: %w", err)
			}
			fmt.Printf("pending: %d spots, %d visits, %d profile edits, %d photos\n",
				counts.Spots, counts.Visits, counts.Users, counts.Photos)

			lastSync, err := a.db.LastSyncAt(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read last sync time: %w", err)
			}
			if lastSync.IsZero() {
				fmt.Println("last sync: never")
			} else {
				fmt.Printf("last sync: %s\n", lastSync.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}
