package device

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// GetDeviceHandler returns the stable device id and the raw data sent to
// the authority.
func GetDeviceHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := svcCtx.Device.ServerPayload(ctx)
		if err != nil {
			logging.Errorf("Failed to collect device info: %v", err)
			httputil.InternalError(w, err.Error())
			return
		}

		httputil.OkJSON(w, &types.DeviceInfoResponse{
			Success:    true,
			DeviceID:   svcCtx.Device.StableID(ctx),
			DeviceInfo: payload,
		})
	}
}
