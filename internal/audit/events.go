// events.go is the catalog of every action the platform can record, with the default
// severity and compliance flags applied when a call site does not override them.
package audit

import (
	"sort"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// Event names an auditable action.
type Event string

// Agent lifecycle
const (
	EventAgentCreated   Event = "AGENT_CREATED"
	EventAgentUpdated   Event = "AGENT_UPDATED"
	EventAgentDeleted   Event = "AGENT_DELETED"
	EventAgentActivated Event = "AGENT_ACTIVATED"
	EventAgentPaused    Event = "AGENT_PAUSED"
	EventAgentArchived  Event = "AGENT_ARCHIVED"
	EventAgentShared    Event = "AGENT_SHARED"
	EventAgentCloned    Event = "AGENT_CLONED"
)

// User and authentication
const (
	EventUserLogin              Event = "USER_LOGIN"
	EventUserLogout             Event = "USER_LOGOUT"
	EventUserLoginFailed        Event = "USER_LOGIN_FAILED"
	EventUserSignup             Event = "USER_SIGNUP"
	EventUserPasswordChanged    Event = "USER_PASSWORD_CHANGED"
	EventUserPasswordReset      Event = "USER_PASSWORD_RESET_REQUESTED"
	EventUserEmailChanged       Event = "USER_EMAIL_CHANGED"
	EventUserMFAEnabled         Event = "USER_MFA_ENABLED"
	EventUserMFADisabled        Event = "USER_MFA_DISABLED"
	EventUserDeleted            Event = "USER_DELETED"
	EventUserOnboardingComplete Event = "USER_ONBOARDING_COMPLETED"
	EventProfileUpdated         Event = "PROFILE_UPDATED"
)

// Settings
const (
	EventSettingsUpdated      Event = "SETTINGS_UPDATED"
	EventNotificationsUpdated Event = "NOTIFICATION_PREFERENCES_UPDATED"
	EventAPIKeyCreated        Event = "API_KEY_CREATED"
	EventAPIKeyRevoked        Event = "API_KEY_REVOKED"
)

// Plugin connections
const (
	EventPluginConnected          Event = "PLUGIN_CONNECTED"
	EventPluginDisconnected       Event = "PLUGIN_DISCONNECTED"
	EventPluginTokenRefreshed     Event = "PLUGIN_TOKEN_REFRESHED"
	EventPluginAuthFailed         Event = "PLUGIN_AUTH_FAILED"
	EventPluginPermissionsChanged Event = "PLUGIN_PERMISSIONS_CHANGED"
)

// GDPR and data handling
const (
	EventDataExported           Event = "DATA_EXPORTED"
	EventDataExportRequested    Event = "DATA_EXPORT_REQUESTED"
	EventDataDeleted            Event = "DATA_DELETED"
	EventDataAnonymized         Event = "DATA_ANONYMIZED"
	EventConsentGiven           Event = "CONSENT_GIVEN"
	EventConsentWithdrawn       Event = "CONSENT_WITHDRAWN"
	EventRetentionPolicyApplied Event = "RETENTION_POLICY_APPLIED"
)

// Admin
const (
	EventAdminUserRoleChanged      Event = "ADMIN_USER_ROLE_CHANGED"
	EventAdminUserSuspended        Event = "ADMIN_USER_SUSPENDED"
	EventAdminUserReactivated      Event = "ADMIN_USER_REACTIVATED"
	EventAdminImpersonationStarted Event = "ADMIN_IMPERSONATION_STARTED"
	EventAdminImpersonationEnded   Event = "ADMIN_IMPERSONATION_ENDED"
	EventAdminSettingsUpdated      Event = "ADMIN_SETTINGS_UPDATED"
	EventAdminAuditLogAccessed     Event = "ADMIN_AUDIT_LOG_ACCESSED"
	EventAdminCreditsAdjusted      Event = "ADMIN_CREDITS_ADJUSTED"
)

// AIS (agent intensity scoring)
const (
	EventAISScoreCalculated      Event = "AIS_SCORE_CALCULATED"
	EventAISRangesUpdated        Event = "AIS_RANGES_UPDATED"
	EventAISRecalculationStarted Event = "AIS_RECALCULATION_TRIGGERED"
	EventAISNormalizationRefresh Event = "AIS_NORMALIZATION_REFRESHED"
	EventAISModeChanged          Event = "AIS_MODE_CHANGED"
)

// Reward config
const (
	EventRewardConfigCreated Event = "REWARD_CONFIG_CREATED"
	EventRewardConfigUpdated Event = "REWARD_CONFIG_UPDATED"
	EventRewardConfigDeleted Event = "REWARD_CONFIG_DELETED"
	EventRewardGranted       Event = "REWARD_GRANTED"
	EventRewardRevoked       Event = "REWARD_REVOKED"
)

// Pricing and billing
const (
	EventPricingConfigUpdated Event = "PRICING_CONFIG_UPDATED"
	EventCreditsPurchased     Event = "CREDITS_PURCHASED"
	EventCreditsConsumed      Event = "CREDITS_CONSUMED"
	EventSubscriptionChanged  Event = "SUBSCRIPTION_CHANGED"
	EventPaymentFailed        Event = "PAYMENT_FAILED"
)

// System config
const (
	EventSystemConfigUpdated      Event = "SYSTEM_CONFIG_UPDATED"
	EventSystemMaintenanceStarted Event = "SYSTEM_MAINTENANCE_STARTED"
	EventSystemMaintenanceEnded   Event = "SYSTEM_MAINTENANCE_ENDED"
	EventFeatureFlagChanged       Event = "FEATURE_FLAG_CHANGED"
)

// Memory subsystem
const (
	EventMemoryCreated    Event = "MEMORY_CREATED"
	EventMemoryUpdated    Event = "MEMORY_UPDATED"
	EventMemoryDeleted    Event = "MEMORY_DELETED"
	EventMemoryCleared    Event = "MEMORY_CLEARED"
	EventMemorySummarized Event = "MEMORY_SUMMARIZED"
)

// Workflow and pilot execution
const (
	EventWorkflowExecuted   Event = "WORKFLOW_EXECUTED"
	EventWorkflowFailed     Event = "WORKFLOW_FAILED"
	EventWorkflowStepFailed Event = "WORKFLOW_STEP_FAILED"
	EventPilotStarted       Event = "PILOT_STARTED"
	EventPilotCompleted     Event = "PILOT_COMPLETED"
	EventPilotFailed        Event = "PILOT_FAILED"
	EventExecutionCancelled Event = "EXECUTION_CANCELLED"
	EventApprovalRequested  Event = "APPROVAL_REQUESTED"
	EventApprovalGranted    Event = "APPROVAL_GRANTED"
	EventApprovalRejected   Event = "APPROVAL_REJECTED"
)

// Security
const (
	EventSecuritySuspiciousActivity Event = "SECURITY_SUSPICIOUS_ACTIVITY"
	EventSecurityRateLimitExceeded  Event = "SECURITY_RATE_LIMIT_EXCEEDED"
	EventSecurityUnauthorizedAccess Event = "SECURITY_UNAUTHORIZED_ACCESS"
	EventSecurityTokenRevoked       Event = "SECURITY_TOKEN_REVOKED"
	EventSecurityPermissionDenied   Event = "SECURITY_PERMISSION_DENIED"
)

// Metadata holds the defaults applied to an event.
type Metadata struct {
	Severity        models.Severity         `json:"severity"`
	ComplianceFlags []models.ComplianceFlag `json:"compliance_flags"`
	Description     string                  `json:"description"`
}

const (
	info     = models.SeverityInfo
	warning  = models.SeverityWarning
	critical = models.SeverityCritical

	gdpr  = models.ComplianceGDPR
	soc2  = models.ComplianceSOC2
	hipaa = models.ComplianceHIPAA
	iso   = models.ComplianceISO27001
	ccpa  = models.ComplianceCCPA
)

func meta(sev models.Severity, desc string, flags ...models.ComplianceFlag) Metadata {
	return Metadata{Severity: sev, ComplianceFlags: flags, Description: desc}
}

var registry = map[Event]Metadata{
	EventAgentCreated:   meta(info, "Agent created", soc2),
	EventAgentUpdated:   meta(info, "Agent configuration updated", soc2),
	EventAgentDeleted:   meta(critical, "Agent permanently deleted", soc2, gdpr),
	EventAgentActivated: meta(info, "Agent activated"),
	EventAgentPaused:    meta(info, "Agent paused"),
	EventAgentArchived:  meta(warning, "Agent archived", soc2),
	EventAgentShared:    meta(warning, "Agent shared with another user", soc2, gdpr),
	EventAgentCloned:    meta(info, "Agent cloned from template"),

	EventUserLogin:              meta(info, "User signed in", soc2),
	EventUserLogout:             meta(info, "User signed out"),
	EventUserLoginFailed:        meta(warning, "Failed sign-in attempt", soc2, iso),
	EventUserSignup:             meta(info, "User account created", gdpr, ccpa),
	EventUserPasswordChanged:    meta(critical, "User password changed", soc2, iso),
	EventUserPasswordReset:      meta(warning, "Password reset requested", soc2),
	EventUserEmailChanged:       meta(warning, "User email address changed", gdpr, soc2),
	EventUserMFAEnabled:         meta(info, "Multi-factor authentication enabled", soc2),
	EventUserMFADisabled:        meta(critical, "Multi-factor authentication disabled", soc2, iso),
	EventUserDeleted:            meta(critical, "User account deleted", gdpr, ccpa, soc2),
	EventUserOnboardingComplete: meta(info, "User completed onboarding", gdpr),
	EventProfileUpdated:         meta(info, "User profile updated", gdpr, ccpa),

	EventSettingsUpdated:      meta(info, "User settings updated", soc2),
	EventNotificationsUpdated: meta(info, "Notification preferences updated", gdpr),
	EventAPIKeyCreated:        meta(warning, "API key created", soc2, iso),
	EventAPIKeyRevoked:        meta(warning, "API key revoked", soc2, iso),

	EventPluginConnected:          meta(info, "Third-party plugin connected", soc2, gdpr),
	EventPluginDisconnected:       meta(info, "Third-party plugin disconnected", soc2, gdpr),
	EventPluginTokenRefreshed:     meta(info, "Plugin OAuth token refreshed"),
	EventPluginAuthFailed:         meta(warning, "Plugin authentication failed", soc2),
	EventPluginPermissionsChanged: meta(warning, "Plugin permission scopes changed", soc2, gdpr),

	EventDataExported:           meta(warning, "User data exported", gdpr, ccpa),
	EventDataExportRequested:    meta(info, "User data export requested", gdpr, ccpa),
	EventDataDeleted:            meta(critical, "User data deleted", gdpr, ccpa, hipaa),
	EventDataAnonymized:         meta(critical, "User data anonymized", gdpr, ccpa),
	EventConsentGiven:           meta(info, "Consent given", gdpr, ccpa),
	EventConsentWithdrawn:       meta(warning, "Consent withdrawn", gdpr, ccpa),
	EventRetentionPolicyApplied: meta(info, "Retention policy applied to audit trail", gdpr, soc2),

	EventAdminUserRoleChanged:      meta(critical, "Admin changed a user role", soc2, iso),
	EventAdminUserSuspended:        meta(critical, "Admin suspended a user", soc2),
	EventAdminUserReactivated:      meta(warning, "Admin reactivated a user", soc2),
	EventAdminImpersonationStarted: meta(critical, "Admin started impersonating a user", soc2, iso, gdpr),
	EventAdminImpersonationEnded:   meta(warning, "Admin stopped impersonating a user", soc2),
	EventAdminSettingsUpdated:      meta(warning, "Admin settings updated", soc2, iso),
	EventAdminAuditLogAccessed:     meta(info, "Audit trail accessed", soc2),
	EventAdminCreditsAdjusted:      meta(warning, "Admin adjusted user credits", soc2),

	EventAISScoreCalculated:      meta(info, "Agent intensity score calculated"),
	EventAISRangesUpdated:        meta(warning, "AIS normalization ranges updated", soc2),
	EventAISRecalculationStarted: meta(info, "AIS recalculation triggered", soc2),
	EventAISNormalizationRefresh: meta(info, "AIS normalization refreshed"),
	EventAISModeChanged:          meta(warning, "AIS scoring mode changed", soc2),

	EventRewardConfigCreated: meta(info, "Reward configuration created", soc2),
	EventRewardConfigUpdated: meta(warning, "Reward configuration updated", soc2),
	EventRewardConfigDeleted: meta(warning, "Reward configuration deleted", soc2),
	EventRewardGranted:       meta(info, "Reward granted to user", soc2),
	EventRewardRevoked:       meta(warning, "Reward revoked from user", soc2),

	EventPricingConfigUpdated: meta(critical, "Pricing configuration updated", soc2),
	EventCreditsPurchased:     meta(info, "Credits purchased", soc2),
	EventCreditsConsumed:      meta(info, "Credits consumed"),
	EventSubscriptionChanged:  meta(warning, "Subscription plan changed", soc2),
	EventPaymentFailed:        meta(warning, "Payment failed", soc2),

	EventSystemConfigUpdated:      meta(critical, "System configuration updated", soc2, iso),
	EventSystemMaintenanceStarted: meta(warning, "System maintenance started"),
	EventSystemMaintenanceEnded:   meta(info, "System maintenance ended"),
	EventFeatureFlagChanged:       meta(warning, "Feature flag changed", soc2),

	EventMemoryCreated:    meta(info, "Agent memory created", gdpr),
	EventMemoryUpdated:    meta(info, "Agent memory updated", gdpr),
	EventMemoryDeleted:    meta(warning, "Agent memory deleted", gdpr),
	EventMemoryCleared:    meta(warning, "Agent memory cleared", gdpr),
	EventMemorySummarized: meta(info, "Agent memory summarized"),

	EventWorkflowExecuted:   meta(info, "Workflow executed"),
	EventWorkflowFailed:     meta(warning, "Workflow execution failed"),
	EventWorkflowStepFailed: meta(warning, "Workflow step failed"),
	EventPilotStarted:       meta(info, "Pilot run started"),
	EventPilotCompleted:     meta(info, "Pilot run completed"),
	EventPilotFailed:        meta(warning, "Pilot run failed"),
	EventExecutionCancelled: meta(info, "Execution cancelled"),
	EventApprovalRequested:  meta(info, "Human approval requested", soc2),
	EventApprovalGranted:    meta(info, "Human approval granted", soc2),
	EventApprovalRejected:   meta(info, "Human approval rejected", soc2),

	EventSecuritySuspiciousActivity: meta(critical, "Suspicious activity detected", soc2, iso),
	EventSecurityRateLimitExceeded:  meta(warning, "Rate limit exceeded", soc2),
	EventSecurityUnauthorizedAccess: meta(critical, "Unauthorized access attempt", soc2, iso, hipaa),
	EventSecurityTokenRevoked:       meta(warning, "Access token revoked", soc2),
	EventSecurityPermissionDenied:   meta(warning, "Permission denied", soc2),
}

// EventMetadata returns the registered defaults for event. Unknown events get an info
// severity and no compliance flags.
func EventMetadata(event string) Metadata {
	m, ok := registry[Event(event)]
	if !ok {
		return Metadata{Severity: models.SeverityInfo, Description: "Unknown event: " + event}
	}
	m.ComplianceFlags = append([]models.ComplianceFlag(nil), m.ComplianceFlags...)
	return m
}

// IsRegistered reports whether event is in the catalog.
func IsRegistered(event string) bool {
	_, ok := registry[Event(event)]
	return ok
}

// RequiresCompliance reports whether event carries flag by default.
func RequiresCompliance(event string, flag models.ComplianceFlag) bool {
	for _, f := range registry[Event(event)].ComplianceFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// EventsByCompliance lists the events tagged with flag, sorted by name.
func EventsByCompliance(flag models.ComplianceFlag) []Event {
	var out []Event
	for ev, m := range registry {
		for _, f := range m.ComplianceFlags {
			if f == flag {
				out = append(out, ev)
				break
			}
		}
	}
	sortEvents(out)
	return out
}

// Events lists every registered event, sorted by name.
func Events() []Event {
	out := make([]Event, 0, len(registry))
	for ev := range registry {
		out = append(out, ev)
	}
	sortEvents(out)
	return out
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool { return evs[i] < evs[j] })
}
