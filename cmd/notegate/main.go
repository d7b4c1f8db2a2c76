// ABOUTME: Entry point for the notegate server
// ABOUTME: Subcommands: serve, init, seed, health

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/fernwood/notegate/internal/allowlist"
	"github.com/fernwood/notegate/internal/config"
	"github.com/fernwood/notegate/internal/loginflow"
	"github.com/fernwood/notegate/internal/ratelimit"
	"github.com/fernwood/notegate/internal/session"
	"github.com/fernwood/notegate/internal/store"
	"github.com/fernwood/notegate/internal/web"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                  _
 _ __   ___ | |_ ___  __ _  __ _| |_ ___
| '_ \ / _ \| __/ _ \/ _' |/ _' | __/ _ \
| | | | (_) | ||  __/ (_| | (_| | ||  __/
|_| |_|\___/ \__\___|\__, |\__,_|\__\___|
                     |___/
`

// getConfigPath returns the config file path.
// Priority: NOTEGATE_CONFIG env var > XDG_CONFIG_HOME/notegate/config.yaml > ~/.config/notegate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("NOTEGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "notegate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "notegate", "config.yaml")
}

// getDataPath returns the data directory.
// Priority: XDG_DATA_HOME/notegate > ~/.local/share/notegate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "notegate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: notegate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the server")
		fmt.Println("  init                       Create a new config file interactively")
		fmt.Println("  seed --emails a@x,b@y      Add emails to the allowlist")
		fmt.Println("  seed --file emails.txt     Add emails from a file, one per line")
		fmt.Println("  health                     Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "seed":
		err = runSeed(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:    %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Environment: %s\n", cfg.Auth.Environment)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	} else {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:   ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.RateLimit.Addr == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Rate limit:  disabled (no counter service configured)")
	}
	fmt.Println()

	logger.Info("starting notegate",
		"config", configPath,
		"database", cfg.Database.Path,
		"environment", cfg.Auth.Environment,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	production := cfg.Auth.Environment.Production()
	resolver := allowlist.New(st, cfg.Auth.AllowedEmailList(), production, logger)

	authority, err := session.New(st, resolver, cfg.Auth.BaseURL, logger)
	if err != nil {
		return fmt.Errorf("creating session authority: %w", err)
	}

	flows := loginflow.New(authority, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Addr,
			Password: cfg.RateLimit.Password,
			DB:       cfg.RateLimit.DB,
		})
		limiter = ratelimit.New(client, production, logger)
	}

	server := web.New(cfg, st, authority, flows, resolver, limiter, logger)
	return server.Run(ctx)
}

// runSeed adds emails to the allowlist. Installing the allowlist also
// installs the users-table trigger that re-checks every account insert.
func runSeed(ctx context.Context) error {
	var emailsArg, fileArg string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--emails":
			if i+1 >= len(args) {
				return fmt.Errorf("--emails requires a value")
			}
			emailsArg = args[i+1]
			i++
		case strings.HasPrefix(arg, "--emails="):
			emailsArg = strings.TrimPrefix(arg, "--emails=")
		case arg == "--file":
			if i+1 >= len(args) {
				return fmt.Errorf("--file requires a value")
			}
			fileArg = args[i+1]
			i++
		case strings.HasPrefix(arg, "--file="):
			fileArg = strings.TrimPrefix(arg, "--file=")
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}

	var emails []string
	switch {
	case emailsArg != "":
		emails = strings.Split(emailsArg, ",")
	case fileArg != "":
		data, err := os.ReadFile(fileArg)
		if err != nil {
			return fmt.Errorf("reading email file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
				emails = append(emails, line)
			}
		}
	default:
		return fmt.Errorf("one of --emails or --file is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	inserted, err := st.SeedAllowedEmails(ctx, emails)
	if err != nil {
		return fmt.Errorf("seeding allowlist: %w", err)
	}

	total, err := st.CountAllowedEmails(ctx)
	if err != nil {
		return fmt.Errorf("counting allowlist: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Added %d email(s); allowlist now holds %d\n", inserted, total)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("notegate configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "notegate.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "External base URL", "http://"+httpAddr)
	environment := prompt(reader, "Environment (production/development/test)", "development")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Access Configuration ---")
	allowedEmails := prompt(reader, "Allowed emails (comma-separated fallback list)", "")

	fmt.Println("\n--- Rate Limiting ---")
	redisAddr := prompt(reader, "Redis address (empty disables rate limiting)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "notegate")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# notegate configuration\n")
	cfg.WriteString("# Generated by notegate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  environment: \"%s\"\n", environment))
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	if allowedEmails != "" {
		cfg.WriteString(fmt.Sprintf("  allowed_emails: \"%s\"\n", allowedEmails))
	}
	cfg.WriteString("\n")

	if redisAddr != "" {
		cfg.WriteString("ratelimit:\n")
		cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", redisAddr))
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  notegate seed --emails you@example.com")
	fmt.Println("  notegate serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
