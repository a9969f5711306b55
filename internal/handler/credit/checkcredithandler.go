package credit

import (
	"errors"
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func CheckCreditHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CheckCreditRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.Token == "" {
			req.Token = svcCtx.Session().Token()
		}
		if req.Token == "" || req.Tool == "" {
			httputil.Error(w, errors.New("token and tool are required"))
			return
		}

		httputil.OkJSON(w, svcCtx.Gateway.CheckCredit(r.Context(), req.Token, req.Tool, req.Action))
	}
}
