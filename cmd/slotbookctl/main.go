package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"slotbook/internal/cache"
	"slotbook/internal/calendar/google"
	"slotbook/internal/config"
	"slotbook/internal/domain"
)

func main() {
	app := &cli.App{
		Name:  "slotbookctl",
		Usage: "Operate the slotbook availability cache and calendar credentials.",
		Commands: []*cli.Command{
			authCommand(),
			refreshCommand(),
			refreshAllCommand(),
			slotsCommand(),
			watchCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "slotbookctl"),
	)
	return cfg, log, nil
}

func redisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func redisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize a Google account and save its token to SLOTBOOK_GOOGLE_TOKEN_FILE.",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.GoogleTokenFile == "" {
				return fmt.Errorf("SLOTBOOK_GOOGLE_TOKEN_FILE is not set")
			}
			gcfg := google.Config{
				ClientID:        cfg.GoogleClientID,
				ClientSecret:    cfg.GoogleClientSecret,
				CredentialsFile: cfg.GoogleCredentialsFile,
				TokenFile:       cfg.GoogleTokenFile,
			}

			authURL, err := google.AuthURL(gcfg)
			if err != nil {
				return fmt.Errorf("google oauth config: %w", err)
			}
			fmt.Printf("Open this link, approve access, then paste the code:\n%s\n", authURL)
			fmt.Print("Authorization code: ")
			code, _ := bufio.NewReader(os.Stdin).ReadString('\n')

			if err := google.SaveToken(c.Context, gcfg, strings.TrimSpace(code)); err != nil {
				return err
			}
			log.Info("token saved", slog.String("file", cfg.GoogleTokenFile))
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Queue a slot refresh for one appointment group.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "group", Required: true, Usage: "Appointment group id."},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			client := asynq.NewClient(redisOpt(cfg))
			defer client.Close()

			taskID, err := cache.EnqueueRefresh(c.Context, client, c.String("group"))
			if err != nil {
				return err
			}
			log.Info("refresh queued", slog.String("group_id", c.String("group")), slog.String("task_id", taskID))
			return nil
		},
	}
}

func refreshAllCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh-all",
		Usage: "Queue a slot refresh for every appointment group.",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			client := asynq.NewClient(redisOpt(cfg))
			defer client.Close()

			info, err := client.EnqueueContext(c.Context, cache.NewRefreshAllTask())
			if err != nil {
				return fmt.Errorf("enqueue refresh_all: %w", err)
			}
			log.Info("refresh_all queued", slog.String("task_id", info.ID))
			return nil
		},
	}
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Print the cached slots of a group for one date.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "group", Required: true, Usage: "Appointment group id."},
			&cli.StringFlag{Name: "date", Required: true, Usage: "Date as YYYY-MM-DD."},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			date, err := domain.ParseDate(c.String("date"))
			if err != nil {
				return err
			}
			rdb := redisClient(cfg)
			defer rdb.Close()

			day, ok, err := cache.NewRedisSlotCache(rdb, cfg.CacheTTL).GetSlots(c.Context, c.String("group"), date)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no cached slots for group %s on %s", c.String("group"), domain.FormatDate(date))
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(day)
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print availability update events as refreshes publish them.",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			rdb := redisClient(cfg)
			defer rdb.Close()

			log.Info("watching", slog.String("channel", cfg.CacheUpdatesTopic))
			err = cache.NewRedisPublisher(rdb, cfg.CacheUpdatesTopic).Subscribe(c.Context, func(ev cache.Event) {
				fmt.Printf("%s group=%s dates=%s\n", ev.ComputedAt.Format(time.RFC3339), ev.GroupID, strings.Join(ev.Dates, ","))
			})
			if err != nil && c.Context.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
