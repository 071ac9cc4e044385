package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/sharing"

	"golang.org/x/term"
)

const (
	// Default timeout for database operations
	defaultTimeout = 30 * time.Second
	// Default data directory path
	defaultDataDir = "/data"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	cache := catalog.NewCache(catalog.NewStore(filepath.Join(dataDir, "index.json")))

	shares, err := sharing.NewManager(ctx, filepath.Join(dataDir, "shares.db"), cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open share database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATA_DIR is set correctly (current: %s)\n", dataDir)
		os.Exit(1)
	}
	defer func() {
		if err := shares.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close share database: %v\n", err)
		}
	}()

	ok := true
	switch command {
	case "create":
		ok = createShare(ctx, shares, os.Args[2:])
	case "list":
		ok = listShares(ctx, shares)
	case "revoke":
		ok = revokeShare(ctx, shares, os.Args[2:])
	case "log":
		ok = showAccessLog(ctx, shares, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", command)
		printUsage()
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("DICOM Indexer Share Management")
	fmt.Println("")
	fmt.Println("Usage: sharectl <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  create <series-key> [hours]  - Create a share link (prompts for an optional password)")
	fmt.Println("  list                         - List all share tokens")
	fmt.Println("  revoke <token>               - Revoke a share token")
	fmt.Println("  log <token>                  - Show the access log for a token")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Printf("  DATA_DIR - Path to data directory holding index.json and shares.db (default: %s)\n", defaultDataDir)
}

func createShare(ctx context.Context, shares *sharing.Manager, args []string) bool {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: series key required")
		return false
	}
	seriesKey := args[0]

	expiresIn := sharing.DefaultTTL
	if len(args) > 1 {
		hours, err := strconv.ParseFloat(args[1], 64)
		if err != nil || hours < 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid hours value %q\n", args[1])
			return false
		}
		expiresIn = time.Duration(hours * float64(time.Hour))
	}

	fmt.Print("Password (empty for none): ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	createdBy := os.Getenv("USER")
	if createdBy == "" {
		createdBy = "sharectl"
	}

	share, err := shares.CreateShare(ctx, seriesKey, createdBy, expiresIn, string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create share: %v\n", err)
		return false
	}

	fmt.Println("Share created.")
	fmt.Printf("  Token:     %s\n", share.Token)
	fmt.Printf("  Series:    %s\n", share.SeriesKey)
	fmt.Printf("  Expires:   %s\n", share.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("  Protected: %v\n", share.PasswordProtected)
	fmt.Printf("  URL path:  /share/%s\n", share.Token)
	return true
}

func listShares(ctx context.Context, shares *sharing.Manager) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	all, err := shares.ListShares(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list shares: %v\n", err)
		return false
	}
	if len(all) == 0 {
		fmt.Println("No shares.")
		return true
	}

	now := time.Now()
	for _, s := range all {
		state := "active"
		if s.Expired(now) {
			state = "expired"
		}
		fmt.Printf("%s  series=%s  %s  expires=%s  accesses=%d  protected=%v\n",
			s.Token, s.SeriesKey, state, s.ExpiresAt.Format(time.RFC3339), s.AccessCount, s.PasswordProtected)
	}
	return true
}

func revokeShare(ctx context.Context, shares *sharing.Manager, args []string) bool {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: token required")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := shares.Revoke(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to revoke share: %v\n", err)
		return false
	}
	fmt.Println("Share revoked. The token row is kept for audit.")
	return true
}

func showAccessLog(ctx context.Context, shares *sharing.Manager, args []string) bool {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: token required")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	entries, err := shares.AccessLog(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to read access log: %v\n", err)
		return false
	}
	if len(entries) == 0 {
		fmt.Println("No access log entries.")
		return true
	}

	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "denied (" + e.FailureReason + ")"
		}
		fmt.Printf("%s  %s  %s  %s\n",
			e.AccessedAt.Format(time.RFC3339), e.IPAddress, outcome, e.UserAgent)
	}
	return true
}
