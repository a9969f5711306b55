package token

import (
	"errors"
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/keyring"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// ValidateTokenHandler checks the token against this device with the
// authority. An accepted token becomes the signed-in token and is saved to
// the OS keychain.
func ValidateTokenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req types.TokenRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			httputil.Error(w, errors.New("token is required"))
			return
		}

		payload, err := svcCtx.Device.ServerPayload(ctx)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}

		result, err := svcCtx.Authority.ValidateTokenDevice(ctx, req.Token, payload)
		if err != nil {
			logging.Warnf("Token validation failed: %v", err)
			httputil.ErrorWithCode(w, http.StatusBadGateway, "AUTHORITY_ERROR", err.Error())
			return
		}

		if ok, _ := result["success"].(bool); ok {
			svcCtx.Session().SetToken(req.Token)
			if keyring.Available() {
				if err := keyring.SetToken(req.Token); err != nil {
					logging.Warnf("Token not saved to keychain: %v", err)
				}
			}
		}

		httputil.OkJSON(w, result)
	}
}
