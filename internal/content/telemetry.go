package content

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

var errEmptyPayload = errors.New("empty payload")

type progressPayload struct {
	Progress float64 `json:"progress"`
}

type statePayload struct {
	State int `json:"state"`
}

type videoDataPayload struct {
	VideoDetails json.RawMessage `json:"videoDetails"`
	PlaylistID   string          `json:"playlistId"`
}

type storeStatePayload struct {
	Queue json.RawMessage `json:"queue"`
}

type navigatedPayload struct {
	URL string `json:"url"`
}

// handleEvent folds one telemetry event into the aggregator or the bus.
// Malformed payloads are logged and dropped.
func (l *Link) handleEvent(ev *protocol.EventFrame) {
	var err error
	switch ev.Event {
	case protocol.ContentVideoProgressChanged:
		var p progressPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			l.agg.UpdateProgress(p.Progress)
		}

	case protocol.ContentVideoStateChanged:
		var p statePayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			l.agg.UpdateTrackState(p.State)
		}

	case protocol.ContentVideoDataChanged:
		var p videoDataPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			err = l.agg.UpdateVideoDetails(p.VideoDetails, p.PlaylistID)
		}

	case protocol.ContentStoreStateChanged:
		var p storeStatePayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			err = l.agg.UpdateQueue(p.Queue)
		}

	case protocol.ContentCreatePlaylistObserved:
		// The playlist object is forwarded to companions untouched.
		if !json.Valid(ev.Payload) {
			err = errEmptyPayload
			break
		}
		l.publishOnce("created:"+string(ev.Payload), protocol.EventPlaylistCreated, json.RawMessage(ev.Payload))

	case protocol.ContentDeletePlaylistObserved:
		var id string
		if err = json.Unmarshal(ev.Payload, &id); err == nil {
			if id == "" {
				err = errEmptyPayload
				break
			}
			l.publishOnce("deleted:"+id, protocol.EventPlaylistDeleted, id)
		}

	case protocol.ContentNavigated:
		var p navigatedPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil && p.URL != "" {
			l.agg.Resume().RecordURL(p.URL)
		}

	default:
		slog.Debug("content.unknown_event", "event", ev.Event)
		return
	}

	if err != nil {
		slog.Warn("content.bad_event", "event", ev.Event, "error", err)
	}
}

func (l *Link) publishOnce(key, name string, payload any) {
	if l.dedupe.IsDuplicate(key) {
		slog.Debug("content.duplicate_event", "event", name)
		return
	}
	l.events.Publish(bus.Event{Name: name, Payload: payload})
}
