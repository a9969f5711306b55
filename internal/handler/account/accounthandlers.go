package account

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

func ListAccountsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, svcCtx.Gateway.AccountList(r.Context()))
	}
}

func AddAccountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := httputil.Body(r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, svcCtx.Gateway.AddAccount(r.Context(), body))
	}
}

func UpdateAccountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := httputil.Body(r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, svcCtx.Gateway.UpdateAccount(r.Context(), httputil.PathVar(r, "id"), body))
	}
}

func DeleteAccountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AccountPathRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, svcCtx.Gateway.DeleteAccount(r.Context(), req.ID))
	}
}
