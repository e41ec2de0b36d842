package token

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/tanranv5/grok2api/pkg/config"
)

// ErrNoCredential is returned when no eligible credential exists for a
// request. The orchestrator treats it as terminal: an immediate retry
// would run the same empty-pool check again.
var ErrNoCredential = errors.New("no eligible credential available")

// UsageChecker probes the provider for a credential's remaining quota.
// The production implementation lives in the upstream client package;
// tests inject fakes.
type UsageChecker interface {
	CheckUsage(ctx context.Context, credential Credential) (Quotas, error)
}

// Pool selects and maintains provider credentials. It is a best-effort
// scheduler over shared-mutable store state: concurrent request handlers
// may select the same credential, and the upstream provider's own
// rejection of over-quota use feeds back through RecordFailure. No
// cross-request lock is taken.
type Pool struct {
	store     Store
	cooldowns config.CooldownConfig
	checker   UsageChecker
	logger    *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewPool creates a credential pool over a store.
func NewPool(store Store, cooldowns config.CooldownConfig, checker UsageChecker) *Pool {
	return &Pool{
		store:     store,
		cooldowns: cooldowns,
		checker:   checker,
		logger:    slog.Default().With("component", "token.pool"),
		now:       time.Now,
	}
}

// Select returns the best eligible credential for a model class, or
// ErrNoCredential when the eligible set is empty.
//
// Eligibility: active status, no future cooldown, and non-zero quota for
// the requested kind. Among eligible credentials, the never-probed
// (quota unknown) rank first so fresh credentials get exercised, then
// higher remaining quota, then least recently used.
func (p *Pool) Select(ctx context.Context, elevated bool) (Credential, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return Credential{}, err
	}

	now := p.now()
	eligible := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if c.Status != StatusActive {
			continue
		}
		if c.OnCooldown(now) {
			continue
		}
		if elevated && c.Kind != KindElevated {
			continue
		}
		if c.QuotaFor(elevated) == 0 {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		return Credential{}, ErrNoCredential
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		qi, qj := score(eligible[i].QuotaFor(elevated)), score(eligible[j].QuotaFor(elevated))
		if qi != qj {
			return qi > qj
		}
		return eligible[i].LastUsedAt.Before(eligible[j].LastUsedAt)
	})

	chosen := eligible[0]
	if err := p.store.Touch(ctx, chosen.ID, now); err != nil {
		// Selection still stands; losing one LRU update only skews
		// future ordering.
		p.logger.Warn("failed to record credential use", "credential", chosen.Suffix(), "error", err)
	}

	p.logger.Debug("credential selected",
		"credential", chosen.Suffix(),
		"elevated", elevated,
		"remaining", chosen.QuotaFor(elevated),
		"eligible", len(eligible),
	)
	return chosen, nil
}

// score orders quotas: unknown first, then descending remaining count.
func score(quota int) int {
	if quota == QuotaUnknown {
		return int(^uint(0) >> 1)
	}
	return quota
}

// RecordFailure persists failure metadata for a credential. It does not
// set a cooldown by itself; ApplyCooldown owns that policy.
func (p *Pool) RecordFailure(ctx context.Context, cred Credential, statusCode int, message string) {
	p.logger.Warn("credential failure",
		"credential", cred.Suffix(),
		"status", statusCode,
		"error", message,
	)

	// Auth rejections mean the session is gone; soft-retire it so it
	// drops out of selection until an operator revalidates it.
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		if err := p.store.SetStatus(ctx, cred.ID, StatusExpired); err != nil && !errors.Is(err, ErrNotFound) {
			p.logger.Error("failed to expire credential", "credential", cred.Suffix(), "error", err)
		}
	}
}

// ApplyCooldown sets the credential's cooldown based on the failure
// class of the status code. statusCode 0 means a transport failure.
func (p *Pool) ApplyCooldown(ctx context.Context, cred Credential, statusCode int) {
	until := p.now().Add(p.cooldownFor(statusCode))
	if err := p.store.SetCooldown(ctx, cred.ID, until); err != nil && !errors.Is(err, ErrNotFound) {
		p.logger.Error("failed to apply cooldown", "credential", cred.Suffix(), "error", err)
		return
	}
	p.logger.Info("credential cooling down",
		"credential", cred.Suffix(),
		"status", statusCode,
		"until", until.Format(time.RFC3339),
	)
}

func (p *Pool) cooldownFor(statusCode int) time.Duration {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return p.cooldowns.Auth
	case statusCode == http.StatusTooManyRequests:
		return p.cooldowns.RateLimit
	case statusCode >= 500:
		return p.cooldowns.Server
	case statusCode == 0:
		return p.cooldowns.Network
	default:
		return p.cooldowns.Server
	}
}

// MarkActive clears transient failure state after a successful
// out-of-band quota check.
func (p *Pool) MarkActive(ctx context.Context, cred Credential) error {
	if err := p.store.SetStatus(ctx, cred.ID, StatusActive); err != nil {
		return err
	}
	return p.store.SetCooldown(ctx, cred.ID, time.Time{})
}

// UpdateLimits stores the quotas reported by an out-of-band usage probe.
func (p *Pool) UpdateLimits(ctx context.Context, cred Credential, q Quotas) error {
	return p.store.SetQuota(ctx, cred.ID, q)
}

// Store exposes the underlying store for the admin surface.
func (p *Pool) Store() Store {
	return p.store
}
