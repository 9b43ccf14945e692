package handler

import (
	"github.com/prometheus/client_golang/prometheus"

	"relaychat/internal/app/archive"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/storage"
	"relaychat/internal/configs"
)

// AppDeps carries everything the HTTP handlers need.
type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig

	// StorageService is nil when S3 is not configured.
	StorageService storage.StorageService

	// Archive is nil when ARCHIVE_DRIVER is none.
	Archive archive.Store

	// Gatherer serves /metrics.
	Gatherer prometheus.Gatherer
}
