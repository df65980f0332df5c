package dto

import (
	"ai-daemon/pkg/store"
	"ai-daemon/pkg/vault"
)

type HealthResponse struct {
	Status   string      `json:"status"`
	Uptime   float64     `json:"uptime"`
	Sessions int         `json:"sessions"`
	Vault    vault.Stats `json:"vault"`
}

type VaultSyncRequest struct {
	Documents []store.Document `json:"documents" validate:"max=10000"`
}

// VaultSyncResponse flattens the sync counts next to the success flag.
type VaultSyncResponse struct {
	Success bool `json:"success"`
	vault.SyncResult
}
