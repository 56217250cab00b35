// ABOUTME: Entry point for assistant-manager
// ABOUTME: Runs the control plane and offers one-shot fleet inspection commands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/assistant-manager/internal/config"
	"github.com/2389/assistant-manager/internal/console"
	"github.com/2389/assistant-manager/internal/manager"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _     _              _
  __ _ ___ ___(_)___| |_ __ _ _ __ | |_       _ __ ___   __ _ _ __
 / _' / __/ __| / __| __/ _' | '_ \| __|_____| '_ ' _ \ / _' | '__|
| (_| \__ \__ \ \__ \ || (_| | | | | ||_____|| | | | | | (_| | |
 \__,_|___/___/_|___/\__\__,_|_| |_|\__|     |_| |_| |_|\__, |_|
                                                        |___/
`

// getConfigPath returns the path to the config file.
// Priority: ASSISTANT_MANAGER_CONFIG env var > XDG_CONFIG_HOME/assistant-manager/config.yaml > ~/.config/assistant-manager/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_MANAGER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant-manager", "config.yaml")
}

// getDataPath returns the data directory.
// Priority: XDG_DATA_HOME/assistant-manager > ~/.local/share/assistant-manager
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "assistant-manager")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: assistant-manager <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve        Start the control plane")
		fmt.Println("  init         Create a new config file interactively")
		fmt.Println("  health       Probe every persisted assistant once")
		fmt.Println("  assistants   List persisted assistants")
		fmt.Println("  status       Check a running control plane over HTTP")
		os.Exit(1)
	}

	// .env is optional.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "assistants":
		err = runAssistants(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
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

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", describeDatabase(cfg))
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.HTTP.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Pacing:    %s min delay, health every %s\n", cfg.Bulk.MinDelay, cfg.Health.Interval)

	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    ")
		cyan.Print(cfg.Matrix.UserID)
		gray.Printf(" (%d operators)", len(cfg.Matrix.Operators))
		fmt.Println()
	} else {
		yellow.Println("    ! Matrix bot disabled - no operator front end")
	}
	if cfg.Security.CredentialsKey == "" {
		yellow.Println("    ! security.credentials_key not set - credentials stored unencrypted")
	}
	fmt.Println()

	logger.Info("starting assistant-manager",
		"config", configPath,
		"owner_id", cfg.OwnerID,
		"http_addr", cfg.HTTP.Addr,
		"database", cfg.Database.Driver,
	)

	m, err := manager.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	return m.Run(ctx)
}

func describeDatabase(cfg *config.Config) string {
	if cfg.Database.Driver == "mongo" {
		return "mongo " + cfg.Database.Mongo.Database
	}
	return "sqlite " + cfg.Database.Path
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogger(config.LoggingConfig{Level: "warn", File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()

	m, err := manager.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	rep, err := m.CheckOnce(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if len(rep.Outcomes) == 0 {
		fmt.Println("no connected assistants")
		return nil
	}
	for _, o := range rep.Outcomes {
		line := fmt.Sprintf("%s %-40s %s", console.Marker(o.State), o.Handle, o.State)
		if o.Detail != "" {
			line += color.HiBlackString("  " + o.Detail)
		}
		fmt.Println(line)
	}
	fmt.Printf("\nprobed %d assistants in %s\n", len(rep.Outcomes), rep.Duration)
	return nil
}

func runAssistants(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogger(config.LoggingConfig{Level: "warn", File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()

	m, err := manager.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}
	defer m.Close()

	list, err := m.Assistants(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no assistants")
		return nil
	}
	for _, a := range list {
		checked := "never"
		if a.LastCheckedAt != nil {
			checked = a.LastCheckedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s %-20d %-40s added by %-12d checked %s\n",
			console.Marker(a.Health), a.ID, a.Handle, a.AddedBy, checked)
	}
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/readyz", cfg.HTTP.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println("ready")
	return nil
}
