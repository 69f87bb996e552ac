// Package maintenance runs one-shot operator actions against the session store.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	sessionscmd "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/cmd/sessions"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/config"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
)

// Config holds maintenance command configuration.
type Config struct {
	Store       sessionscmd.StoreConfig
	Timeout     time.Duration `env:"MAINTENANCE_TIMEOUT" envDefault:"2m"`
	Init        bool
	List        bool
	DeleteID    string
	Sweep       bool
	MaxInactive time.Duration
	Before      string
	JSONOutput  bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Store.RegisterFlags(fs)
	fs.BoolVar(&cfg.Init, "init", false, "create the session schema if missing")
	fs.BoolVar(&cfg.List, "list", false, "list stored session ids")
	fs.StringVar(&cfg.DeleteID, "delete", "", "delete the session with this id")
	fs.BoolVar(&cfg.Sweep, "sweep", false, "delete expired sessions (requires -max-inactive or -before)")
	fs.DurationVar(&cfg.MaxInactive, "max-inactive", 0, "sweep sessions idle for at least this long")
	fs.StringVar(&cfg.Before, "before", "", "sweep sessions last modified at or before this RFC3339 time")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type action int

const (
	actionInit action = iota
	actionList
	actionDelete
	actionSweep
)

// resolveAction enforces that exactly one action flag is set.
func resolveAction(cfg Config) (action, error) {
	var selected []action
	if cfg.Init {
		selected = append(selected, actionInit)
	}
	if cfg.List {
		selected = append(selected, actionList)
	}
	if strings.TrimSpace(cfg.DeleteID) != "" {
		selected = append(selected, actionDelete)
	}
	if cfg.Sweep {
		selected = append(selected, actionSweep)
	}
	switch len(selected) {
	case 0:
		return 0, errors.New("one of -init, -list, -delete or -sweep is required")
	case 1:
		return selected[0], nil
	default:
		return 0, errors.New("-init, -list, -delete and -sweep are mutually exclusive")
	}
}

// resolveCutoff turns -max-inactive or -before into a sweep cutoff.
func resolveCutoff(maxInactive time.Duration, before string, now time.Time) (time.Time, error) {
	before = strings.TrimSpace(before)
	switch {
	case maxInactive != 0 && before != "":
		return time.Time{}, errors.New("-max-inactive cannot be combined with -before")
	case maxInactive < 0:
		return time.Time{}, errors.New("-max-inactive must be >= 0")
	case maxInactive > 0:
		return now.Add(-maxInactive), nil
	case before != "":
		cutoff, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse -before: %w", err)
		}
		return cutoff, nil
	default:
		return time.Time{}, errors.New("-sweep requires -max-inactive or -before")
	}
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	act, err := resolveAction(cfg)
	if err != nil {
		return err
	}
	var cutoff time.Time
	if act == actionSweep {
		if cutoff, err = resolveCutoff(cfg.MaxInactive, cfg.Before, time.Now()); err != nil {
			return err
		}
	}

	store, err := openStore(ctx, cfg.Store.Server())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "Warning: close session store: %v\n", err)
		}
	}()

	switch act {
	case actionInit:
		return runInit(ctx, store, cfg.JSONOutput, out)
	case actionList:
		return runList(ctx, store, cfg.JSONOutput, out)
	case actionDelete:
		return runDelete(ctx, store, strings.TrimSpace(cfg.DeleteID), cfg.JSONOutput, out)
	default:
		return runSweep(ctx, store, cutoff, cfg.JSONOutput, out)
	}
}

func runInit(ctx context.Context, store storage.SessionStore, jsonOutput bool, out io.Writer) error {
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, map[string]any{"action": "init", "ok": true})
	}
	fmt.Fprintln(out, "session schema ready")
	return nil
}

func runList(ctx context.Context, store storage.SessionStore, jsonOutput bool, out io.Writer) error {
	ids, err := store.ListSessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	if jsonOutput {
		return writeJSON(out, map[string]any{"ids": ids, "count": len(ids)})
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runDelete(ctx context.Context, store storage.SessionStore, id string, jsonOutput bool, out io.Writer) error {
	if err := store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	if jsonOutput {
		return writeJSON(out, map[string]any{"deleted_id": id})
	}
	fmt.Fprintf(out, "deleted session %s\n", id)
	return nil
}

func runSweep(ctx context.Context, store storage.SessionStore, cutoff time.Time, jsonOutput bool, out io.Writer) error {
	deleted, err := store.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	formatted := cutoff.UTC().Format(time.RFC3339)
	if jsonOutput {
		return writeJSON(out, map[string]any{"deleted": deleted, "cutoff": formatted})
	}
	fmt.Fprintf(out, "deleted %d expired sessions (cutoff %s)\n", deleted, formatted)
	return nil
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
