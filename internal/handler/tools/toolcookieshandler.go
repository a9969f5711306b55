package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// ToolCookiesHandler asks the authority for the tool's cookies.
func ToolCookiesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ToolCookiesRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}

		body := map[string]any{"tool_type": req.Tool, "token": req.Token}
		if req.AccountID != "" {
			body["account_id"] = req.AccountID
		}
		httputil.OkJSON(w, svcCtx.Gateway.ToolCookies(r.Context(), body))
	}
}
