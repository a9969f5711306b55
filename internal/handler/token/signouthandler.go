package token

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/keyring"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// SignOutHandler forgets the signed-in token and closes its tool windows.
func SignOutHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := svcCtx.Session()
		closed := 0
		if tok := session.Token(); tok != "" {
			closed = svcCtx.Topology.CloseToken(tok)
		}
		session.SetToken("")
		if keyring.Available() {
			if err := keyring.DeleteToken(); err != nil {
				logging.Warnf("Token not removed from keychain: %v", err)
			}
		}
		logging.Infof("Signed out, closed %d windows", closed)
		httputil.OkJSON(w, &types.MessageResponse{Success: true, Message: "signed out"})
	}
}
