package handler

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
)

// UpdateCheckHandler evaluates the version gate on demand.
func UpdateCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, svcCtx.Gate.Evaluate(r.Context()))
	}
}
