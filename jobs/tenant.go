package jobs

import (
	"context"
	"fmt"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/sirupsen/logrus"
)

// TenantAdmin reads and writes the tenant-wide version policy
type TenantAdmin interface {
	GetTenantSettings(ctx context.Context) (types.TenantSettings, error)
	UpdateTenantSettings(ctx context.Context, settings types.TenantSettings) error
}

// TenantPolicy is the tenant-wide change requested for a run
type TenantPolicy struct {
	Action            types.TenantAction
	MajorVersionLimit int
}

// ApplyTenantPolicy performs the tenant action before any site is processed.
// A returned error is fatal for the whole run. Conflicting actions are not
// errors: they come back as a skipped record and leave the tenant untouched.
func ApplyTenantPolicy(ctx context.Context, admin TenantAdmin, policy TenantPolicy, logger *logrus.Logger) (types.TenantActionRecord, error) {
	record := types.TenantActionRecord{Action: policy.Action}
	if policy.Action == "" || policy.Action == types.TenantActionNone {
		record.Action = types.TenantActionNone
		record.Outcome = types.TenantActionUnchanged
		return record, nil
	}

	current, err := admin.GetTenantSettings(ctx)
	if err != nil {
		return record, fmt.Errorf("failed to read tenant settings: %w", err)
	}
	record.Before = current

	log := logger.WithFields(logrus.Fields{
		"action":          policy.Action,
		"auto_expiration": current.AutoExpirationEnabled,
		"version_limit":   current.MajorVersionLimit,
	})

	desired := current
	switch policy.Action {
	case types.TenantActionEnableAutoExpiration:
		if current.AutoExpirationEnabled {
			record.Outcome = types.TenantActionUnchanged
			record.Detail = "auto-expiration already enabled"
			log.Info("Tenant auto-expiration already enabled")
			return record, nil
		}
		desired.AutoExpirationEnabled = true

	case types.TenantActionSetVersionLimit:
		if current.AutoExpirationEnabled {
			record.Outcome = types.TenantActionSkipped
			record.Kind = string(KindConfigurationSkipped)
			record.Detail = fmt.Sprintf("major version limit %d not set: auto-expiration is enabled for the tenant", policy.MajorVersionLimit)
			log.Warn("Skipping version limit change while auto-expiration is enabled")
			return record, nil
		}
		if current.MajorVersionLimit == policy.MajorVersionLimit {
			record.Outcome = types.TenantActionUnchanged
			record.Detail = fmt.Sprintf("major version limit already %d", policy.MajorVersionLimit)
			log.Info("Tenant version limit already set")
			return record, nil
		}
		desired.MajorVersionLimit = policy.MajorVersionLimit

	default:
		return record, fmt.Errorf("unsupported tenant action %q", policy.Action)
	}

	if err := admin.UpdateTenantSettings(ctx, desired); err != nil {
		return record, fmt.Errorf("failed to update tenant settings: %w", err)
	}

	record.Outcome = types.TenantActionApplied
	log.WithField("new_version_limit", desired.MajorVersionLimit).Info("Tenant settings updated")
	return record, nil
}
