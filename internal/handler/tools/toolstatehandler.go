package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func GetToolStateHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolStateRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		httputil.OkJSON(w, svcCtx.Gateway.GetToolState(r.Context(), req.Token, req.Tool))
	}
}

func UpdateToolStateHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolStateRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		if req.Updates == nil {
			req.Updates = map[string]any{}
		}
		httputil.OkJSON(w, svcCtx.Gateway.UpdateToolState(r.Context(), req.Token, req.Tool, req.Updates))
	}
}
