package token

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
)

// TokenInfoHandler forwards get-token-info with the device raw data
// attached. Without device data the request still goes out as-is.
func TokenInfoHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body := httputil.Query(r)
		if _, ok := body["token"]; !ok {
			if tok := svcCtx.Session().Token(); tok != "" {
				body["token"] = tok
			}
		}

		if payload, err := svcCtx.Device.ServerPayload(ctx); err == nil {
			body["device_raw_data"] = payload
		} else {
			logging.Warnf("Device info unavailable for token info: %v", err)
		}

		httputil.OkJSON(w, svcCtx.Gateway.TokenInfo(ctx, body))
	}
}
