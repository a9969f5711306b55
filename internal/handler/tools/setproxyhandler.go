package tools

import (
	"net/http"

	"github.com/muatool/dashboard/internal/httputil"
	"github.com/muatool/dashboard/internal/partition"
	"github.com/muatool/dashboard/internal/svc"
	"github.com/muatool/dashboard/internal/types"
)

// SetProxyHandler records a proxy for the tool's partitions. It takes
// effect when a partition is next provisioned.
func SetProxyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SetProxyRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		names := svcCtx.Partitions.SetProxy(req.Tool, partition.ParseProxy(req.Proxy))
		if names == nil {
			names = []string{}
		}
		httputil.OkJSON(w, &types.SetProxyResponse{Success: true, Partitions: names})
	}
}
