// ABOUTME: Entry point for servant-bot
// ABOUTME: Dispatches the serve, init, and health subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/YubinMoon/servant-bot/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
    ╭─────────────────────────────────────╮
    │                                     │
    │   ┏━┓┏━╸┏━┓╻ ╻┏━┓┏┓╻╺┳╸   ┏┓ ┏━┓╺┳╸ │
    │   ┗━┓┣╸ ┣┳┛┃┏┛┣━┫┃┗┫ ┃ ╺━╸┣┻┓┃ ┃ ┃  │
    │   ┗━┛┗━╸╹┗╸┗┛ ╹ ╹╹ ╹ ╹    ┗━┛┗━┛ ╹  │
    │                                     │
    ╰─────────────────────────────────────╯
`

// getConfigPath returns the path to the config file.
// Priority: SERVANT_CONFIG env var > XDG_CONFIG_HOME/servant-bot/config.yaml > ~/.config/servant-bot/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SERVANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "servant-bot", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/servant-bot > ~/.local/share/servant-bot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "servant-bot")
}

func usage() {
	fmt.Println("Usage: servant-bot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Connect to Matrix and answer messages")
	fmt.Println("  init      Write a starter config file")
	fmt.Println("  health    Check the readiness endpoint of a running bot")
	fmt.Println("  version   Print the version")
	fmt.Println()
	fmt.Println("The config path defaults to", getConfigPath(), "(override with SERVANT_CONFIG).")
}

func main() {
	if len(os.Args) < 2 {
		usage()
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
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	path := getConfigPath()
	if err := config.WriteStarter(path); err != nil {
		if errors.Is(err, config.ErrExists) {
			return fmt.Errorf("%s already exists; remove it first or set SERVANT_CONFIG", path)
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ✓ ")
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("      Fill in the Matrix account and completion API key, then run: servant-bot serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.MetricsAddr == "" {
		return errors.New("server.metrics_addr is not configured")
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.MetricsAddr)
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
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}

	fmt.Println("ready")
	return nil
}
