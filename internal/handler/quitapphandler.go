package handler

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// QuitAppHandler answers first and then asks the app to exit.
func QuitAppHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, &types.MessageResponse{Success: true, Message: "quitting"})
		go svcCtx.Quit()
	}
}
