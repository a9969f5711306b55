package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func InitSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.InitSessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		httputil.OkJSON(w, svcCtx.Gateway.InitSession(r.Context(), req.Token, req.Tool, req.ToolID, req.ClientID))
	}
}

func CloseSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CloseSessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		httputil.OkJSON(w, svcCtx.Gateway.CloseSession(r.Context(), req.Token, req.Tool, req.SessionID))
	}
}

// LatestPartitionHandler asks the authority which partition an account
// should open in.
func LatestPartitionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LatestPartitionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, svcCtx.Gateway.LatestPartition(r.Context(), req.Tool, req.AccountID))
	}
}
