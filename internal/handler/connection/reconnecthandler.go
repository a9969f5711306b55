package connection

import (
	"net/http"

	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// ReconnectHandler redials the authority, e.g. after the channel gave up.
func ReconnectHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svcCtx.Channel.Reconnect(r.Context()); err != nil {
			code := channel.ErrorCode(err)
			if code == "" {
				code = "NOT_CONNECTED"
			}
			httputil.ErrorWithCode(w, http.StatusServiceUnavailable, code, err.Error())
			return
		}
		httputil.OkJSON(w, &types.ConnectionResponse{Success: true, Stats: svcCtx.Channel.Stats()})
	}
}
