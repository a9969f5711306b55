package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/muatool/dashboard/internal/browser"
	"github.com/muatool/dashboard/internal/config"
	"github.com/muatool/dashboard/internal/db"
	"github.com/muatool/dashboard/internal/db/migrations"
	"github.com/muatool/dashboard/internal/defaults"
	"github.com/muatool/dashboard/internal/keyring"
)

// DoctorCmd creates the doctor command for health checks
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the installation and diagnose issues",
		Long: `Run diagnostics on your MuaTool Dashboard installation.

Checks:
  - Configuration
  - Data directory
  - Local database
  - Browser executable
  - OS keychain
  - MuaTool server reachability`,
		Run: func(cmd *cobra.Command, args []string) {
			if failed := runDoctor(cmd.Context()); failed > 0 {
				os.Exit(1)
			}
		},
	}
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor(ctx context.Context) int {
	fmt.Println("\033[1mMuaTool Doctor\033[0m")
	fmt.Println("==============")
	fmt.Println()

	c, err := loadConfig()
	results := []checkResult{checkConfig(err)}
	results = append(results, checkDataDir()...)
	results = append(results, checkBrowser(c), checkKeychain())
	if err == nil {
		results = append(results, checkServer(ctx, c))
	}

	ok, warn, failed := 0, 0, 0
	for _, r := range results {
		switch r.status {
		case "ok":
			fmt.Printf("\033[32m✓\033[0m %s: %s\n", r.name, r.message)
			ok++
		case "warn":
			fmt.Printf("\033[33m⚠\033[0m %s: %s\n", r.name, r.message)
			warn++
		default:
			fmt.Printf("\033[31m✗\033[0m %s: %s\n", r.name, r.message)
			failed++
		}
	}

	fmt.Println()
	fmt.Printf("Summary: \033[32m%d passed\033[0m", ok)
	if warn > 0 {
		fmt.Printf("  \033[33m%d warnings\033[0m", warn)
	}
	if failed > 0 {
		fmt.Printf("  \033[31m%d errors\033[0m", failed)
	}
	fmt.Println()
	return failed
}

func checkConfig(err error) checkResult {
	if err != nil {
		return checkResult{"Config", "error", err.Error()}
	}
	path := configPath()
	if _, statErr := os.Stat(path); statErr != nil {
		return checkResult{"Config", "ok", "built-in defaults"}
	}
	return checkResult{"Config", "ok", path}
}

func checkDataDir() []checkResult {
	dir, err := defaults.EnsureDataDir()
	if err != nil {
		return []checkResult{{"Data directory", "error", err.Error()}}
	}
	probe := filepath.Join(dir, ".doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return []checkResult{{"Data directory", "error", "not writable: " + err.Error()}}
	}
	os.Remove(probe)
	results := []checkResult{{"Data directory", "ok", dir}}

	dbPath := filepath.Join(dir, "data", "muatool.db")
	if _, err := os.Stat(dbPath); err != nil {
		return append(results, checkResult{"Database", "warn", "not created yet"})
	}
	store, err := db.NewSQLite(dbPath)
	if err != nil {
		return append(results, checkResult{"Database", "error", err.Error()})
	}
	defer store.Close()
	v, err := migrations.Version(store.DB())
	if err != nil {
		return append(results, checkResult{"Database", "error", err.Error()})
	}
	return append(results, checkResult{"Database", "ok", fmt.Sprintf("schema version %d", v)})
}

func checkBrowser(c config.Config) checkResult {
	exe, err := browser.FindChromeExecutable(c.Browser.ChromePath)
	if err != nil {
		return checkResult{"Browser", "error", err.Error()}
	}
	if exe == nil {
		return checkResult{"Browser", "warn", "no Chrome or Edge found, bundled Chromium will be downloaded"}
	}
	return checkResult{"Browser", "ok", fmt.Sprintf("%s (%s)", exe.Path, exe.Kind)}
}

func checkKeychain() checkResult {
	if !keyring.Available() {
		return checkResult{"Keychain", "warn", "unavailable, sign-in will not be remembered"}
	}
	return checkResult{"Keychain", "ok", "available"}
}

func checkServer(ctx context.Context, c config.Config) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := newAuthority(c.App.Version, c.Authority.BaseURL, c.Authority.Timeout).DashboardVersion(ctx); err != nil {
		return checkResult{"MuaTool server", "error", err.Error()}
	}
	return checkResult{"MuaTool server", "ok", fmt.Sprintf("%s (%dms)", c.Authority.BaseURL, time.Since(start).Milliseconds())}
}
