package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func ClearToolDataHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolPathRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		n, err := svcCtx.Partitions.ClearTool(r.Context(), req.Tool)
		if err != nil {
			logging.Errorf("Clear tool data failed for %s: %v", req.Tool, err)
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.OkJSON(w, &types.ClearToolResponse{Success: true, ClearedPartitions: n})
	}
}
