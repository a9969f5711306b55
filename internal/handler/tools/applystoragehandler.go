package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/topology"
	"github.com/muatool/dashboard/internal/types"
)

func ApplyStorageHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ApplyStorageRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		items, err := topology.NormalizeStorage(req.Storage)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		n := svcCtx.Topology.ApplyStorage(r.Context(), req.Tool, items)
		httputil.OkJSON(w, &types.ApplyStorageResponse{Success: true, Windows: n})
	}
}
