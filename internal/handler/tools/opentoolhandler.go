package tools

import (
	"errors"
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// OpenToolHandler runs the open flow. The window itself opens when the
// authority answers with an open-tool-tab push.
func OpenToolHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.OpenToolRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Tool == "" {
			httputil.Error(w, errors.New("tool is required"))
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}

		httputil.OkJSON(w, svcCtx.Gateway.RequestOpen(r.Context(), req.Token, req.Tool))
	}
}
