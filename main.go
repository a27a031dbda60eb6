// Package main provides the entry point for VPN Manager licensing.
// It reconciles the signed store receipt against the product catalog,
// answers eligibility questions and revokes profiles whose purchase was
// refunded.
//
// Features:
//   - Receipt verification against a local JWKS key set
//   - Feature and provider eligibility checks
//   - Purchase and restore through the storefront service
//   - Periodic purchase reviews with revocation history
//   - Command-line interface for scripting and automation
//
// Usage:
//
//	vpn-manager [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yllada/vpn-licensing/app"
	"github.com/yllada/vpn-licensing/cli"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Path to the configuration file")

	// CLI flags
	showStatus     = flag.Bool("status", false, "Show entitlements and tunnel status")
	listProducts   = flag.Bool("products", false, "List storefront products")
	purchaseID     = flag.String("purchase", "", "Purchase a product by ID")
	restore        = flag.Bool("restore", false, "Restore earlier purchases")
	review         = flag.Bool("review", false, "Review purchases and revoke refunded grants")
	verifyID       = flag.String("verify", "", "Check eligibility for a feature")
	verifyProvider = flag.String("verify-provider", "", "Check eligibility for a provider")
	showHistory    = flag.Bool("history", false, "Show recorded revocations")
	addProvider    = flag.String("add-provider", "", "Add a provider profile")
	ovpnPath       = flag.String("ovpn", "", "OpenVPN config for -add-provider")
	trustProfile   = flag.String("trust", "", "Set the trusted networks of a profile")
	trustWiFi      = flag.String("wifi", "", "Comma-separated trusted Wi-Fi networks")
	trustCellular  = flag.Bool("cellular", false, "Trust cellular networks")
	removeProfile  = flag.String("remove-profile", "", "Remove a profile by name or ID")
	disconnect     = flag.String("disconnect", "", "Disconnect an active tunnel")
	daemon         = flag.Bool("daemon", false, "Keep entitlements current in the background")
)

const historyLimit = 50

func main() {
	flag.Parse()

	// Handle help flag
	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("VPN Manager v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with structured logging and file output
	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		common.LogError("Startup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	code := run(ctx, a)
	if err := a.Close(); err != nil {
		common.LogWarn("Shutdown: %v", err)
	}
	common.CloseLogger()
	os.Exit(code)
}

// run executes the requested operation and returns the exit code.
func run(ctx context.Context, a *app.App) int {
	if *daemon {
		if err := a.RunDaemon(ctx); err != nil {
			common.LogError("Daemon stopped: %v", err)
			return 1
		}
		return 0
	}

	c := cli.New(a)
	var cliErr error

	switch {
	case *showStatus:
		cliErr = c.Status(ctx)
	case *listProducts:
		cliErr = c.Products(ctx)
	case *purchaseID != "":
		cliErr = c.Purchase(ctx, *purchaseID)
	case *restore:
		cliErr = c.Restore(ctx)
	case *review:
		cliErr = c.Review(ctx)
	case *verifyID != "":
		cliErr = c.Verify(*verifyID)
	case *verifyProvider != "":
		cliErr = c.VerifyProvider(*verifyProvider)
	case *showHistory:
		cliErr = c.History(ctx, historyLimit)
	case *addProvider != "":
		if *ovpnPath == "" {
			cliErr = fmt.Errorf("-add-provider requires -ovpn")
			break
		}
		cliErr = c.AddProvider(*addProvider, *ovpnPath)
	case *trustProfile != "":
		cliErr = c.Trust(*trustProfile, splitList(*trustWiFi), *trustCellular)
	case *removeProfile != "":
		cliErr = c.RemoveProfile(*removeProfile)
	case *disconnect != "":
		cliErr = c.Disconnect(ctx, *disconnect)
	default:
		cliErr = c.Status(ctx)
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
