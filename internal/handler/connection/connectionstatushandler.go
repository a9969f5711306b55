package connection

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func ConnectionStatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, &types.ConnectionResponse{Success: true, Stats: svcCtx.Channel.Stats()})
	}
}
