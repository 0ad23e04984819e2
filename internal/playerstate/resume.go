package playerstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/ytmc/internal/store"
)

// ResumeState is what the shell needs to reopen the last page after a
// restart.
type ResumeState struct {
	LastURL        string `json:"lastUrl"`
	LastVideoID    string `json:"lastVideoId"`
	LastPlaylistID string `json:"lastPlaylistId"`
}

// Resume tracks ResumeState in memory; it is written to the store on
// shutdown only.
type Resume struct {
	mu    sync.Mutex
	state ResumeState
}

// RecordURL stores the last page the player navigated to.
func (r *Resume) RecordURL(url string) {
	r.mu.Lock()
	r.state.LastURL = url
	r.mu.Unlock()
}

func (r *Resume) recordVideo(videoID, playlistID string) {
	r.mu.Lock()
	r.state.LastVideoID = videoID
	r.state.LastPlaylistID = playlistID
	r.mu.Unlock()
}

// Restore seeds the tracker with values loaded at startup so a shutdown
// before any navigation does not erase them.
func (r *Resume) Restore(s ResumeState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Resume) Snapshot() ResumeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Save persists the current values. Empty values delete their key.
func (r *Resume) Save(ctx context.Context, kv store.KV) error {
	s := r.Snapshot()
	for key, value := range map[string]string{
		store.KeyLastURL:        s.LastURL,
		store.KeyLastVideoID:    s.LastVideoID,
		store.KeyLastPlaylistID: s.LastPlaylistID,
	} {
		var err error
		if value == "" {
			err = kv.Delete(ctx, key)
		} else {
			err = kv.Set(ctx, key, value)
		}
		if err != nil {
			return fmt.Errorf("save resume state %s: %w", key, err)
		}
	}
	return nil
}

// LoadResume reads the persisted values. Missing keys are empty.
func LoadResume(ctx context.Context, kv store.KV) (ResumeState, error) {
	var s ResumeState
	for key, dst := range map[string]*string{
		store.KeyLastURL:        &s.LastURL,
		store.KeyLastVideoID:    &s.LastVideoID,
		store.KeyLastPlaylistID: &s.LastPlaylistID,
	} {
		v, err := kv.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return s, fmt.Errorf("load resume state %s: %w", key, err)
		}
		*dst = v
	}
	return s, nil
}
