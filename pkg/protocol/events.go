package protocol

// Realtime events pushed to companion subscribers on /api/v1/realtime.
const (
	EventStateUpdate     = "state-update"
	EventPlaylistCreated = "playlist-created"
	EventPlaylistDeleted = "playlist-deleted"
)

// Admin events pushed to operator clients on /ws/admin.
const (
	EventConsentRequested = "consent.requested"
	EventConsentClosed    = "consent.closed"
	EventGateChanged      = "gate.changed"
)

// Telemetry events sent by the embedded player on the content link.
const (
	ContentVideoProgressChanged   = "videoProgressChanged"
	ContentVideoStateChanged      = "videoStateChanged"
	ContentVideoDataChanged       = "videoDataChanged"
	ContentStoreStateChanged      = "storeStateChanged"
	ContentCreatePlaylistObserved = "createPlaylistObserved"
	ContentDeletePlaylistObserved = "deletePlaylistObserved"
	ContentNavigated              = "navigated"
)
