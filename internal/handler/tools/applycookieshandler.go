package tools

import (
	"errors"
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/partition"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// ApplyCookiesHandler writes cookies into the tool's open partitions. With
// nothing open they are queued for the tool's next provision.
func ApplyCookiesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ApplyCookiesRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		cookies, err := partition.NormalizeCookies(req.Cookies)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		if len(cookies) == 0 {
			httputil.Error(w, errors.New("No valid cookies provided"))
			return
		}

		sum, sessions := svcCtx.Topology.ApplyCookies(r.Context(), req.Tool, cookies)
		cached := sessions == 0
		if cached {
			svcCtx.Partitions.Enqueue(req.Tool, cookies)
			logging.Infof("No active windows, queued %d cookies for %s", len(cookies), req.Tool)
		}

		httputil.OkJSON(w, &types.ApplyCookiesResponse{
			Success:       true,
			AppliedCount:  sum.Applied,
			FailedCount:   sum.Failed,
			SessionsCount: sessions,
			Cached:        cached,
			Storage:       "persistent",
		})
	}
}
