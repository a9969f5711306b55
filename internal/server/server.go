package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muatool/dashboard/internal/handler"
	"github.com/muatool/dashboard/internal/handler/account"
	"github.com/muatool/dashboard/internal/handler/connection"
	"github.com/muatool/dashboard/internal/handler/credit"
	"github.com/muatool/dashboard/internal/handler/device"
	"github.com/muatool/dashboard/internal/handler/session"
	"github.com/muatool/dashboard/internal/handler/token"
	"github.com/muatool/dashboard/internal/handler/tokenadmin"
	"github.com/muatool/dashboard/internal/handler/tools"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/middleware"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// ServerOptions holds optional behaviour for the server
type ServerOptions struct {
	Quiet bool // Suppress request logging and startup messages
}

// Run serves the local API until ctx is cancelled.
func Run(ctx context.Context, svcCtx *svc.ServiceContext, opts ...ServerOptions) error {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	addr := svcCtx.Config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s (is another instance running?): %w", addr, err)
	}
	return Serve(ctx, ln, svcCtx, o)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, svcCtx *svc.ServiceContext, opts ServerOptions) error {
	go svcCtx.Hub.Run(ctx)

	// No ReadTimeout/WriteTimeout: they would cut hijacked websocket conns.
	httpServer := &http.Server{
		Handler:           NewRouter(svcCtx, opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if !opts.Quiet {
		logging.Infof("API ready at http://%s", ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(svcCtx *svc.ServiceContext, opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS())

	r.Get("/health", handler.HealthCheckHandler(svcCtx))
	r.Get("/ws", websocket.Handler(svcCtx.Hub))
	if svcCtx.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svcCtx.Registry, promhttp.HandlerOpts{}))
	}

	limiter := middleware.NewRateLimiter(svcCtx.Config.Server.RateLimit, svcCtx.Config.Server.RateBurst)
	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware())
		registerRoutes(r, svcCtx)
	})
	return r
}

func registerRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	r.Get("/device", device.GetDeviceHandler(svcCtx))
	r.Get("/update/check", handler.UpdateCheckHandler(svcCtx))
	r.Post("/app/quit", handler.QuitAppHandler(svcCtx))

	// Token
	r.Post("/token/validate", token.ValidateTokenHandler(svcCtx))
	r.Get("/token/info", token.TokenInfoHandler(svcCtx))
	r.Post("/token/signout", token.SignOutHandler(svcCtx))

	// Tools
	r.Post("/tools/open", tools.OpenToolHandler(svcCtx))
	r.Get("/tools/{tool}", tools.ToolInfoHandler(svcCtx))
	r.Post("/tools/{tool}/cookies", tools.ApplyCookiesHandler(svcCtx))
	r.Get("/tools/{tool}/cookies", tools.ToolCookiesHandler(svcCtx))
	r.Post("/tools/{tool}/storage", tools.ApplyStorageHandler(svcCtx))
	r.Post("/tools/{tool}/proxy", tools.SetProxyHandler(svcCtx))
	r.Delete("/tools/{tool}/data", tools.ClearToolDataHandler(svcCtx))
	r.Post("/tools/{tool}/action", tools.ToolActionHandler(svcCtx))
	r.Get("/tools/{tool}/state", tools.GetToolStateHandler(svcCtx))
	r.Put("/tools/{tool}/state", tools.UpdateToolStateHandler(svcCtx))
	r.Post("/tools/{tool}/session", tools.InitSessionHandler(svcCtx))
	r.Delete("/tools/{tool}/session/{sessionId}", tools.CloseSessionHandler(svcCtx))
	r.Get("/tools/{tool}/partition", tools.LatestPartitionHandler(svcCtx))

	r.Post("/sessions/cleanup", session.CleanupSessionsHandler(svcCtx))
	r.Post("/credit/check", credit.CheckCreditHandler(svcCtx))

	// Connection
	r.Get("/connection", connection.ConnectionStatusHandler(svcCtx))
	r.Post("/connection/reconnect", connection.ReconnectHandler(svcCtx))

	// Accounts
	r.Get("/accounts", account.ListAccountsHandler(svcCtx))
	r.Post("/accounts", account.AddAccountHandler(svcCtx))
	r.Put("/accounts/{id}", account.UpdateAccountHandler(svcCtx))
	r.Delete("/accounts/{id}", account.DeleteAccountHandler(svcCtx))

	// Token administration
	r.Get("/tokens", tokenadmin.ListTokensHandler(svcCtx))
	r.Get("/tokens/search", tokenadmin.SearchTokensHandler(svcCtx))
	r.Post("/tokens", tokenadmin.GenerateTokenHandler(svcCtx))
	r.Post("/tokens/force", tokenadmin.ForceGenerateTokenHandler(svcCtx))
	r.Post("/tokens/tool", tokenadmin.SetToolHandler(svcCtx))
	r.Delete("/tokens/{token}", tokenadmin.DeleteTokenHandler(svcCtx))
}
