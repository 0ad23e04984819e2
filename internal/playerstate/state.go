// Package playerstate normalizes playback telemetry from the embedded player
// into immutable PlayerState snapshots and fans them out to subscribers in
// update order.
package playerstate

// TrackState is the normalized playback state.
type TrackState int

const (
	Unknown   TrackState = -1
	Playing   TrackState = 1
	Paused    TrackState = 2
	Buffering TrackState = 3
)

func (s TrackState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// MapRawCode maps a raw player code. Codes other than 1, 2 and 3 (notably
// -1 unstarted and 5 cued) are transient: they show up between stable states
// while a track loads and map to Unknown.
func MapRawCode(code int) (state TrackState, transient bool) {
	switch code {
	case 1:
		return Playing, false
	case 2:
		return Paused, false
	case 3:
		return Buffering, false
	default:
		return Unknown, true
	}
}

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type VideoDetails struct {
	ID              string
	Title           string
	Author          string
	Album           string
	DurationSeconds int
	Thumbnails      []Thumbnail
}

// QueueItem is a decoded queue entry. A nil *QueueItem in a Queue slice is
// an entry whose raw shape was not recognized.
type QueueItem struct {
	Thumbnails []Thumbnail
	Title      string
	Author     string
	Duration   string
}

type Queue struct {
	Autoplay       bool
	ShuffleEnabled bool
	Items          []*QueueItem
	AutomixItems   []*QueueItem
	IsGenerating   bool
	IsInfinite     bool
	RepeatMode     string
	// SelectedItemIndex comes straight from the player and can point at an
	// item other than the one playing (first navigation into video+playlist).
	SelectedItemIndex int
}

// PlayerState is an immutable snapshot. Consumers may keep references; the
// aggregator never mutates a published snapshot.
type PlayerState struct {
	TrackState    TrackState
	VideoProgress float64
	Video         *VideoDetails
	Queue         *Queue
	PlaylistID    string

	// RawTrackState is the last raw code received, including transient ones.
	RawTrackState int
}

func (s *PlayerState) clone() *PlayerState {
	next := *s
	return &next
}
