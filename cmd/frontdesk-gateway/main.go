// ABOUTME: Entry point for the frontdesk-gateway receptionist server
// ABOUTME: Provides serve, init, seed, token, and health subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/config"
	"github.com/2389/frontdesk-gateway/internal/gateway"
	"github.com/2389/frontdesk-gateway/internal/knowledge"
	"github.com/2389/frontdesk-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __                 _      _           _
 / _|_ __ ___  _ __ | |_ __| | ___  ___| | __
| |_| '__/ _ \| '_ \| __/ _' |/ _ \/ __| |/ /
|  _| | | (_) | | | | || (_| |  __/\__ \   <
|_| |_|  \___/|_| |_|\__\__,_|\___||___/_|\_\
`

const usage = `Usage: frontdesk-gateway <command>

Commands:
  serve                          Start the gateway server
  init [--path P] [--force]      Write a starter config file
  seed FILE                      Load predefined answers from a YAML file
  token --subject S --role R     Issue a bearer token (agent or supervisor)
  health [--ready]               Check a running gateway
`

// getDataPath returns the frontdesk data directory.
// Priority: XDG_DATA_HOME/frontdesk > ~/.local/share/frontdesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "frontdesk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	// A missing .env is normal outside development
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args, os.Stdout)
	case "seed":
		err = runSeed(ctx, args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "health":
		err = runHealth(ctx, args, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("LLM:       ")
	if cfg.LLM.APIKey != "" {
		cyan.Println(cfg.LLM.Model)
	} else {
		yellow.Println("disabled")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting frontdesk-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes a starter config unless one already exists.
func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("path", config.DefaultPath(), "where to write the config (.yaml or .toml)")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", *path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "gateway.db")
	if err := os.WriteFile(*path, config.Template(*path, dbPath), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Config written to %s\n", *path)
	fmt.Fprintf(out, "  Database: %s\n", dbPath)
	fmt.Fprintln(out, "  Set FRONTDESK_JWT_SECRET, LIVEKIT_API_SECRET and GEMINI_API_KEY, or edit the file.")
	return nil
}

// runSeed loads predefined answers straight into the database.
func runSeed(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: frontdesk-gateway seed FILE")
	}

	entries, err := knowledge.LoadSeedFile(args[0])
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	res, err := knowledge.New(s, nil, logger).Seed(ctx, entries)
	fmt.Fprintf(out, "added %d, skipped %d existing\n", res.Added, res.Skipped)
	return err
}

// runToken prints a signed bearer token for the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "who the token identifies")
	roleName := fs.String("role", string(auth.RoleSupervisor), "agent or supervisor")
	ttl := fs.Duration("ttl", 0, "lifetime (defaults to auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}
	role, err := auth.ParseRole(*roleName)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return issueToken(cfg, *subject, role, *ttl, out)
}

func issueToken(cfg *config.Config, subject string, role auth.Role, ttl time.Duration, out io.Writer) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(subject, role, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(out)
	ready := fs.Bool("ready", false, "check readiness instead of liveness")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return checkHealth(ctx, http.DefaultClient, "http://"+cfg.Server.HTTPAddr, *ready, out)
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string, ready bool, out io.Writer) error {
	url := baseURL + "/health"
	if ready {
		url += "/ready"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, string(body))
	return nil
}
