package security

// Event types written by Auditor.
const (
	// Client registration

	// EventClientRegistered is logged when a client registers dynamically
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration metadata is invalid
	EventClientRegistrationRejected = "client_registration_rejected"

	// Authorization

	// EventAuthorizationApproved is logged when a user approves a client and a code is issued
	EventAuthorizationApproved = "authorization_approved"

	// EventAuthorizationDenied is logged when a user denies a client
	EventAuthorizationDenied = "authorization_denied"

	// EventInvalidRedirect is logged when a redirect URI fails validation
	EventInvalidRedirect = "invalid_redirect"

	// Token lifecycle

	// EventTokenIssued is logged after a successful code exchange
	EventTokenIssued = "token_issued"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// Violations

	// EventAuthFailure is logged when client authentication or a grant check fails
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when the code_verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventAuthorizationCodeRace is logged when a code passed validation but lost the consume race
	EventAuthorizationCodeRace = "authorization_code_race"

	// EventRateLimitExceeded is logged when a caller exceeds a rate limit
	EventRateLimitExceeded = "rate_limit_exceeded"

	// Login

	// EventLoginSucceeded is logged when the identity provider callback completes
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged when the identity provider callback fails
	EventLoginFailed = "login_failed"

	// EventLogout is logged when a browser session is ended
	EventLogout = "logout"

	// Sessions

	// EventSessionCreated is logged when a protocol session is opened
	EventSessionCreated = "session_created"

	// EventSessionClosed is logged when a session is closed by its owner or its transport
	EventSessionClosed = "session_closed"

	// EventSessionEvicted is logged when the idle sweep removes a session
	EventSessionEvicted = "session_evicted"

	// EventSessionCapacityExceeded is logged when a session is refused at capacity
	EventSessionCapacityExceeded = "session_capacity_exceeded"
)
