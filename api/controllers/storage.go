package controllers

import (
	"context"
	"net/http"

	"github.com/sabobeh/lectureweaver-backend/api/responses"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

// QuotaReader samples disk usage for the local video store volume.
type QuotaReader interface {
	Snapshot(ctx context.Context) (videostore.Quota, error)
}

type quotaResponse struct {
	UsageBytes uint64  `json:"usage_bytes"`
	QuotaBytes uint64  `json:"quota_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsageRatio float64 `json:"usage_ratio"`
	Warning    bool    `json:"warning"`
	Critical   bool    `json:"critical"`
}

// StorageQuota reports how full the video store volume is.
func StorageQuota(monitor QuotaReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := monitor.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quotaResponse{
			UsageBytes: snapshot.UsageBytes,
			QuotaBytes: snapshot.QuotaBytes,
			FreeBytes:  snapshot.FreeBytes,
			UsageRatio: snapshot.UsageRatio,
			Warning:    snapshot.Warning,
			Critical:   snapshot.Critical,
		})
	}
}
