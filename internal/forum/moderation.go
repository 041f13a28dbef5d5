package forum

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

const (
	opListBlockedIPs  = "forum.list_blocked_ips"
	opAddBlockedIP    = "forum.add_blocked_ip"
	opRemoveBlockedIP = "forum.remove_blocked_ip"
)

// BlockedIPs returns the moderation block list in insertion order.
func (repository *Repository) BlockedIPs(ctx context.Context) ([]string, error) {
	return repository.loadBlockedIPs(ctx, opListBlockedIPs)
}

// AddBlockedIP appends the trimmed address unless it is empty or already listed.
func (repository *Repository) AddBlockedIP(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	addresses, err := repository.loadBlockedIPs(ctx, opAddBlockedIP)
	if err != nil {
		return err
	}
	for _, existing := range addresses {
		if existing == address {
			return nil
		}
	}
	return repository.saveBlockedIPs(ctx, opAddBlockedIP, append(addresses, address))
}

// RemoveBlockedIP drops the trimmed address. Absent addresses are ignored.
func (repository *Repository) RemoveBlockedIP(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	addresses, err := repository.loadBlockedIPs(ctx, opRemoveBlockedIP)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(addresses))
	for _, existing := range addresses {
		if existing != address {
			remaining = append(remaining, existing)
		}
	}
	if len(remaining) == len(addresses) {
		return nil
	}
	return repository.saveBlockedIPs(ctx, opRemoveBlockedIP, remaining)
}

func (repository *Repository) loadBlockedIPs(ctx context.Context, operation string) ([]string, error) {
	raw, ok, err := repository.store.Get(ctx, KeyBlockedIPs)
	if err != nil {
		repository.logError(operation, reasonStoreRead, err, zap.String("key", KeyBlockedIPs))
		return nil, newServiceError(operation, reasonStoreRead, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var addresses []string
	if err := json.Unmarshal([]byte(raw), &addresses); err != nil {
		repository.logger.Warn("malformed blocked ip record treated as empty",
			zap.String("operation", operation),
			zap.String("reason", reasonMalformedData),
			zap.Error(err))
		return []string{}, nil
	}
	if addresses == nil {
		addresses = []string{}
	}
	return addresses, nil
}

func (repository *Repository) saveBlockedIPs(ctx context.Context, operation string, addresses []string) error {
	data, err := json.Marshal(addresses)
	if err != nil {
		repository.logError(operation, reasonEncodeFailed, err)
		return newServiceError(operation, reasonEncodeFailed, err)
	}
	if err := repository.store.Set(ctx, KeyBlockedIPs, string(data)); err != nil {
		repository.logError(operation, reasonStoreWrite, err, zap.String("key", KeyBlockedIPs))
		return newServiceError(operation, reasonStoreWrite, err)
	}
	return nil
}
