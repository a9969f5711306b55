package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/muatool/dashboard/internal/config"
	"github.com/muatool/dashboard/internal/crashlog"
	"github.com/muatool/dashboard/internal/db"
	"github.com/muatool/dashboard/internal/defaults"
	"github.com/muatool/dashboard/internal/keyring"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/notify"
	"github.com/muatool/dashboard/internal/server"
	"github.com/muatool/dashboard/internal/svc"
)

// crashLogRetention is how long error_logs rows are kept.
const crashLogRetention = 30 * 24 * time.Hour

// RunApp starts the dashboard and blocks until it is asked to quit.
func RunApp(parent context.Context) (err error) {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Setup(c.Log.Level, c.Log.Format, nil)

	dataDir, err := defaults.EnsureDataDir()
	if err != nil {
		return err
	}
	lockFile, err := acquireLock(dataDir)
	if err != nil {
		if errors.Is(err, errLocked) {
			notify.Send("MuaTool", "MuaTool Dashboard đang chạy.")
		}
		return err
	}
	defer releaseLock(lockFile)

	dbDir := filepath.Join(dataDir, "data")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	store, err := db.NewSQLite(filepath.Join(dbDir, "muatool.db"))
	if err != nil {
		return err
	}
	crashlog.Init(store)
	defer crashlog.Recover("main", func(r any) {
		notify.Send("MuaTool", "Đã xảy ra lỗi nghiêm trọng, ứng dụng sẽ thoát.")
		err = fmt.Errorf("panic: %v", r)
	})

	svcCtx, err := svc.NewServiceContext(c, store)
	if err != nil {
		store.Close()
		return err
	}
	defer func() {
		if cerr := svcCtx.Close(); cerr != nil {
			logging.Warnf("Shutdown finished with errors: %v", cerr)
		}
	}()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	svcCtx.OnQuit(cancel)

	// The version gate runs before anything touches the network or browser.
	if d := svcCtx.Gate.Evaluate(ctx); d.MustExit() {
		notify.Send("Cập nhật bắt buộc", d.Message)
		return fmt.Errorf("version %s is %s: %s", d.CurrentVersion, d.Verdict, d.Message)
	}

	restoreSession(svcCtx)

	if err := svcCtx.Browser.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	go func() {
		defer crashlog.Recover("channel", nil)
		if err := svcCtx.Channel.Connect(ctx); err != nil && ctx.Err() == nil {
			crashlog.LogError("channel", err, nil)
		}
	}()
	go func() {
		defer crashlog.Recover("updater", nil)
		if err := svcCtx.Checker.Run(ctx); err != nil {
			logging.Warnf("Update checker stopped: %v", err)
		}
	}()
	go watchConfig(ctx)
	go func() {
		if n, err := crashlog.Prune(ctx, crashLogRetention); err != nil {
			logging.Warnf("Crash log prune failed: %v", err)
		} else if n > 0 {
			logging.Debugf("Pruned %d crash log entries", n)
		}
	}()

	logging.Infof("MuaTool Dashboard v%s starting", svcCtx.Version)
	return server.Run(ctx, svcCtx, server.ServerOptions{Quiet: quiet})
}

// restoreSession loads the token saved by the last sign-in.
func restoreSession(svcCtx *svc.ServiceContext) {
	if !keyring.Available() {
		return
	}
	tok, err := keyring.Token()
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			logging.Warnf("Keychain read failed: %v", err)
		}
		return
	}
	svcCtx.Session().SetToken(tok)
	logging.Debugf("Restored signed-in token from keychain")
}

// watchConfig applies log level changes from the user config file live.
func watchConfig(ctx context.Context) {
	path := configPath()
	if path == "" {
		return
	}
	err := config.Watch(ctx, path, func() {
		c, err := loadConfig()
		if err != nil {
			logging.Warnf("Config reload failed: %v", err)
			return
		}
		logging.SetLevel(c.Log.Level)
		logging.Infof("Config reloaded, log level %s", c.Log.Level)
	})
	if err != nil && ctx.Err() == nil {
		logging.Warnf("Config watch stopped: %v", err)
	}
}
