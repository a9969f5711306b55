package tokenadmin

import (
	"net/http"

	"github.com/muatool/dashboard/internal/entitlement"
	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
)

// ListTokensHandler forwards the query string (page, limit, filters).
func ListTokensHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, svcCtx.Gateway.Tokens(r.Context(), entitlement.TokensList, httputil.Query(r)))
	}
}

func SearchTokensHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, svcCtx.Gateway.Tokens(r.Context(), entitlement.TokensSearch, httputil.Query(r)))
	}
}

func GenerateTokenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return bodyHandler(svcCtx, entitlement.TokensGenerate)
}

func ForceGenerateTokenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return bodyHandler(svcCtx, entitlement.TokensForce)
}

func SetToolHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return bodyHandler(svcCtx, entitlement.TokensSetTool)
}

func DeleteTokenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"token": httputil.PathVar(r, "token")}
		httputil.OkJSON(w, svcCtx.Gateway.Tokens(r.Context(), entitlement.TokensDelete, body))
	}
}

func bodyHandler(svcCtx *svc.ServiceContext, event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := httputil.Body(r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, svcCtx.Gateway.Tokens(r.Context(), event, body))
	}
}
