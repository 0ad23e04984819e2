package protocol

// Admin RPC methods (operator control plane).
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodGateEnable  = "gate.enable"
	MethodGateDisable = "gate.disable"
	MethodGateStatus  = "gate.status"

	MethodTokensList      = "tokens.list"
	MethodTokensRevoke    = "tokens.revoke"
	MethodTokensRevokeAll = "tokens.revokeAll"

	MethodConsentList    = "consent.list"
	MethodConsentGet     = "consent.get"
	MethodConsentApprove = "consent.approve"
	MethodConsentDeny    = "consent.deny"
	MethodConsentDismiss = "consent.dismiss"
)

// Requests the core sends to the embedded player on the content link.
const (
	ContentMethodRemoteControl = "remoteControl.execute"
	ContentMethodGetPlaylists  = "getPlaylists"
)
