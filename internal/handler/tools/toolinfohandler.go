package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func ToolInfoHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolPathRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		info, ok := svcCtx.Topology.ToolInfo(req.Tool)
		if !ok {
			httputil.NotFound(w, "tool is not open")
			return
		}
		httputil.OkJSON(w, &types.ToolInfoResponse{Success: true, ToolInfo: info})
	}
}
