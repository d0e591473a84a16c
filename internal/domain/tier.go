// Package domain contains core business types and interfaces.
//
// This file defines storage tiers and their byte ceilings.
package domain

import "strings"

// StorageTier represents the subscription level that decides a user's
// storage ceiling.
type StorageTier string

const (
	TierFree      StorageTier = "free"
	TierPremium   StorageTier = "premium"
	TierUnlimited StorageTier = "unlimited"
)

const (
	KB int64 = 1024
	MB       = 1024 * KB
	GB       = 1024 * MB
)

// TierLimits defines the storage ceiling for a tier.
type TierLimits struct {
	StorageBytes int64
	// TrackHint is an approximate track count, for display only.
	TrackHint int
	rank      int
}

// tierLimits maps tiers to their limits. Tiers are totally ordered by ceiling.
var tierLimits = map[StorageTier]TierLimits{
	TierFree: {
		StorageBytes: 30 * MB,
		TrackHint:    10,
		rank:         0,
	},
	TierPremium: {
		StorageBytes: 2 * GB,
		TrackHint:    500,
		rank:         1,
	},
	TierUnlimited: {
		StorageBytes: 10 * GB,
		TrackHint:    2500,
		rank:         2,
	},
}

// FreeTierUploadLimit is the lifetime item ceiling applied to free users when
// no ledger answer is available.
const FreeTierUploadLimit = 3

// GetTierLimits returns the limits for a tier, defaulting to the free tier for
// unknown tiers.
func GetTierLimits(tier StorageTier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// Limit returns the storage ceiling in bytes.
func (t StorageTier) Limit() int64 {
	return GetTierLimits(t).StorageBytes
}

// Valid reports whether t is one of the known tiers.
func (t StorageTier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// IsPaid returns true for premium and unlimited.
func (t StorageTier) IsPaid() bool {
	return t == TierPremium || t == TierUnlimited
}

// Rank returns the position of the tier in ceiling order (free = 0).
func (t StorageTier) Rank() int {
	return GetTierLimits(t).rank
}

// Less reports whether t has a lower ceiling than other.
func (t StorageTier) Less(other StorageTier) bool {
	return t.Rank() < other.Rank()
}

// Next returns the next tier up, or the tier itself for the top tier.
func (t StorageTier) Next() StorageTier {
	switch t {
	case TierUnlimited:
		return TierUnlimited
	case TierPremium:
		return TierUnlimited
	default:
		return TierPremium
	}
}

// NormalizeTier maps raw tier labels from upstream sources onto a StorageTier.
// Deprecated labels are still accepted: "pro" is premium and "enterprise" is
// unlimited. The second result is false when the label is not recognised, in
// which case the free tier is returned.
func NormalizeTier(raw string) (StorageTier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "free":
		return TierFree, true
	case "premium", "pro":
		return TierPremium, true
	case "unlimited", "enterprise":
		return TierUnlimited, true
	default:
		return TierFree, false
	}
}
