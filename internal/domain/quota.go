// Package domain contains core business types and interfaces.
//
// This file defines the derived quota snapshots returned to callers. None of
// these values are persisted; they are recomputed from the record store, the
// ledger and the entitlement provider.
package domain

import "time"

// StorageStatus describes where a user is in the post-downgrade wind-down.
type StorageStatus string

const (
	StorageStatusActive       StorageStatus = "active_subscription"
	StorageStatusGracePeriod  StorageStatus = "grace_period"
	StorageStatusGraceExpired StorageStatus = "grace_expired"
)

// GracePeriodStatus is resolved from the grace fields on a user profile.
type GracePeriodStatus struct {
	InGracePeriod      bool          `json:"in_grace_period"`
	GracePeriodEnds    *time.Time    `json:"grace_period_ends"`
	GraceDaysRemaining int           `json:"grace_days_remaining"`
	StorageStatus      StorageStatus `json:"storage_status"`
	StorageAtDowngrade *int64        `json:"storage_at_downgrade"`
}

// StorageQuota is a point-in-time snapshot of a user's storage for one tier.
type StorageQuota struct {
	Tier        StorageTier `json:"tier"`
	Limit       int64       `json:"limit"`
	Used        int64       `json:"used"`
	Available   int64       `json:"available"`
	PercentUsed float64     `json:"percent_used"`
	CanUpload   bool        `json:"can_upload"`

	InGracePeriod      bool          `json:"in_grace_period"`
	GracePeriodEnds    *time.Time    `json:"grace_period_ends"`
	GraceDaysRemaining int           `json:"grace_days_remaining"`
	StorageStatus      StorageStatus `json:"storage_status"`
}

// StorageCheck is the result of a prospective upload check.
type StorageCheck struct {
	CanUpload         bool          `json:"can_upload"`
	Reason            string        `json:"reason,omitempty"`
	Quota             *StorageQuota `json:"quota"`
	FileSizeFormatted string        `json:"file_size_formatted"`
}

// QuotaSource records which branch of tier resolution produced an UploadQuota.
type QuotaSource string

const (
	SourceEntitlementUnlimited QuotaSource = "entitlement-unlimited"
	SourceEntitlementPremium   QuotaSource = "entitlement-premium"
	SourceLedger               QuotaSource = "ledger"
	SourceFreeDefault          QuotaSource = "free-default"
)

// UploadQuota is the reconciled upload decision returned to callers.
//
// UploadLimit and Remaining are nil when no count-based limit applies and
// storage alone governs uploads.
type UploadQuota struct {
	Tier             StorageTier   `json:"tier"`
	UploadLimit      *int          `json:"upload_limit"`
	UploadsThisMonth int           `json:"uploads_this_month"`
	Remaining        *int          `json:"remaining"`
	ResetDate        *time.Time    `json:"reset_date"`
	IsUnlimited      bool          `json:"is_unlimited"`
	CanUpload        bool          `json:"can_upload"`
	Storage          *StorageQuota `json:"storage,omitempty"`
	Source           QuotaSource   `json:"source"`
}

// WarningLevel buckets storage usage for display.
type WarningLevel string

const (
	WarningSafe     WarningLevel = "safe"
	WarningWarning  WarningLevel = "warning"
	WarningCritical WarningLevel = "critical"
)
