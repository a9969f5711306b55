package tools

import (
	"errors"
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// ToolActionHandler performs a metered action. Cached credit for the tool
// is dropped first.
func ToolActionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolActionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		if req.Action == "" {
			httputil.Error(w, errors.New("action is required"))
			return
		}

		httputil.OkJSON(w, svcCtx.Gateway.PerformAction(r.Context(), req.Token, req.Tool, req.Action, req.Params))
	}
}
