package session

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// CleanupSessionsHandler wipes temporary and user partitions.
func CleanupSessionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svcCtx.Partitions.CleanupAll(r.Context())
		if err != nil {
			logging.Errorf("Session cleanup failed: %v", err)
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.OkJSON(w, &types.CleanupResponse{Success: true, ClearedSessions: n})
	}
}
