package service

import (
	"context"
	"time"

	"ai-daemon/internal/dto"
	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/store"
	"ai-daemon/pkg/vault"
)

// SessionCounter reports how many sessions are live. *session.Registry satisfies it.
type SessionCounter interface {
	Count() int
}

type IStatusService interface {
	Health(ctx context.Context) dto.HealthResponse
	Providers(ctx context.Context) []provider.Status
	SyncVault(ctx context.Context, docs []store.Document) dto.VaultSyncResponse
	SearchVault(ctx context.Context, query string) []vault.SearchResult
}

type statusService struct {
	providers *provider.Registry
	sessions  SessionCounter
	cache     *vault.Cache
	syncer    vault.Syncer
	started   time.Time
	now       func() time.Time
	logger    logger.ILogger
}

func NewStatusService(
	providers *provider.Registry,
	sessions SessionCounter,
	cache *vault.Cache,
	syncer vault.Syncer,
	log logger.ILogger,
) IStatusService {
	return &statusService{
		providers: providers,
		sessions:  sessions,
		cache:     cache,
		syncer:    syncer,
		started:   time.Now(),
		now:       time.Now,
		logger:    log,
	}
}

func (s *statusService) Health(ctx context.Context) dto.HealthResponse {
	return dto.HealthResponse{
		Status:   "ok",
		Uptime:   s.now().Sub(s.started).Seconds(),
		Sessions: s.sessions.Count(),
		Vault:    s.cache.Stats(),
	}
}

func (s *statusService) Providers(ctx context.Context) []provider.Status {
	return s.providers.Statuses(ctx)
}

func (s *statusService) SyncVault(ctx context.Context, docs []store.Document) dto.VaultSyncResponse {
	res, err := s.syncer.Sync(ctx, docs)
	if err != nil {
		s.logger.Warn("StatusService", "Vault sync not replicated", map[string]interface{}{"error": err.Error()})
	}
	s.logger.Info("StatusService", "Vault synced over HTTP", map[string]interface{}{
		"count":   res.Count,
		"added":   res.Added,
		"updated": res.Updated,
		"removed": res.Removed,
	})
	return dto.VaultSyncResponse{Success: true, SyncResult: res}
}

func (s *statusService) SearchVault(ctx context.Context, query string) []vault.SearchResult {
	return s.cache.Search(query)
}
