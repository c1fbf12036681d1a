package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcelsud/webhook-relay/auth"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/internal/logger"
	"github.com/marcelsud/webhook-relay/processor"
	"github.com/marcelsud/webhook-relay/webhook/sqlstore"
)

/* cli - operational commands against the relay database
 * Usage:
 *   cli create-key -name NAME [-days N] [-permissions a,b]
 *   cli process
 *   cli purge -days N
 */

const usage = "usage: cli <create-key|process|purge> [flags]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Format: "console", Service: "webhook-relay-cli", Output: os.Stderr})

	ctx := context.Background()
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "create-key":
		fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
		name := fs.String("name", "", "key name")
		days := fs.Int("days", 0, "expire after N days (0 never expires)")
		perms := fs.String("permissions", "", "comma separated permissions")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("create-key: -name is required")
		}

		var expiresAt *time.Time
		if *days > 0 {
			at := time.Now().UTC().AddDate(0, 0, *days)
			expiresAt = &at
		}
		var permissions []string
		if *perms != "" {
			permissions = strings.Split(*perms, ",")
		}

		svc := auth.NewService(store, cfg.AdminAPIKey, auth.WithLogger(log))
		plaintext, id, err := svc.GenerateAPIKey(ctx, *name, permissions, expiresAt)
		if err != nil {
			return err
		}
		fmt.Printf("key_id:  %s\napi_key: %s\n", id, plaintext)
		fmt.Println("Store the key securely, it will not be shown again.")

	case "process":
		registry, err := processor.NewDefaultRegistry(processor.LogNotifier{Log: log})
		if err != nil {
			return err
		}
		engine := processor.NewEngine(store, registry,
			processor.WithLogger(log),
			processor.WithHandlerTimeout(cfg.HandlerTimeout()),
		)
		result, err := engine.ProcessUnprocessed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("processed: %d\nfailed:    %d\nretried:   %d\n", result.Processed, result.Failed, result.Retried)

	case "purge":
		fs := flag.NewFlagSet("purge", flag.ContinueOnError)
		days := fs.Int("days", cfg.RetentionDays, "delete processed events older than N days")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *days <= 0 {
			return fmt.Errorf("purge: -days must be positive")
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -*days)
		n, err := store.PurgeProcessedOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d events processed before %s\n", n, cutoff.Format(time.RFC3339))

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}
