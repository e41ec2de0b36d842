package token

import "time"

// Kind is the class of a provider credential.
type Kind string

const (
	// KindStandard credentials serve basic-tier models.
	KindStandard Kind = "standard"

	// KindElevated credentials additionally carry an elevated quota for
	// super-tier models.
	KindElevated Kind = "elevated"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	// StatusActive credentials are eligible for selection.
	StatusActive Status = "active"

	// StatusExpired credentials are soft-retired and never selected.
	// They stay in the store until an admin deletes them.
	StatusExpired Status = "expired"
)

// QuotaUnknown marks a quota that has never been probed.
const QuotaUnknown = -1

// Credential is one provider session secret with its scheduling state.
// All mutation goes through Pool operations; the struct itself is a
// plain value read from the store.
type Credential struct {
	// ID is the opaque secret value (the session cookie).
	ID string

	// Kind is standard or elevated.
	Kind Kind

	// Status is active or expired.
	Status Status

	// CooldownUntil excludes the credential from selection until the
	// given instant. Zero means no cooldown.
	CooldownUntil time.Time

	// RemainingQueries is the known remaining standard quota.
	// QuotaUnknown (-1) means never probed, 0 means exhausted.
	RemainingQueries int

	// RemainingElevated is the known remaining elevated quota, with the
	// same semantics. Only meaningful for elevated credentials.
	RemainingElevated int

	// Tags are free-form labels set by the operator.
	Tags []string

	// Note is a free-form operator note.
	Note string

	// LastUsedAt is when the credential was last handed out.
	LastUsedAt time.Time
}

// Suffix returns the last six characters of the secret, the only part
// that ever reaches logs.
func (c Credential) Suffix() string {
	if len(c.ID) <= 6 {
		return c.ID
	}
	return c.ID[len(c.ID)-6:]
}

// OnCooldown reports whether the credential is cooling down at t.
func (c Credential) OnCooldown(t time.Time) bool {
	return !c.CooldownUntil.IsZero() && c.CooldownUntil.After(t)
}

// QuotaFor returns the remaining quota for a credential kind requirement.
func (c Credential) QuotaFor(elevated bool) int {
	if elevated {
		return c.RemainingElevated
	}
	return c.RemainingQueries
}

// RefreshProgress is the process-wide record of an in-flight bulk
// revalidation. Exactly one refresh may be running at a time; a record
// whose UpdatedAt is older than the configured staleness threshold is
// considered abandoned and may be force-cleared.
type RefreshProgress struct {
	Running   bool
	Current   int
	Total     int
	Success   int
	Failed    int
	UpdatedAt time.Time
}

// Stale reports whether a running record has been abandoned.
func (p RefreshProgress) Stale(threshold time.Duration, now time.Time) bool {
	return p.Running && now.Sub(p.UpdatedAt) > threshold
}

// Quotas is the result of one out-of-band usage probe.
type Quotas struct {
	// Remaining is the standard query quota.
	Remaining int

	// RemainingElevated is the elevated query quota; QuotaUnknown for
	// standard credentials.
	RemainingElevated int
}
