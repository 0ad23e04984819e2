package playerstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexInt accepts a JSON number or a numeric string ("213").
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexInt(int(n))
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

type rawThumbnails struct {
	Thumbnails []Thumbnail `json:"thumbnails"`
}

type rawVideoDetails struct {
	VideoID       string        `json:"videoId"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	Album         string        `json:"album"`
	LengthSeconds flexInt       `json:"lengthSeconds"`
	Thumbnail     rawThumbnails `json:"thumbnail"`
}

// DecodeVideoDetails decodes the player's videoDetails payload.
func DecodeVideoDetails(raw json.RawMessage) (*VideoDetails, error) {
	var r rawVideoDetails
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode video details: %w", err)
	}
	if r.VideoID == "" {
		return nil, fmt.Errorf("decode video details: missing videoId")
	}
	return &VideoDetails{
		ID:              r.VideoID,
		Title:           r.Title,
		Author:          r.Author,
		Album:           r.Album,
		DurationSeconds: int(r.LengthSeconds),
		Thumbnails:      nonNilThumbs(r.Thumbnail.Thumbnails),
	}, nil
}

type rawQueue struct {
	Autoplay          bool              `json:"autoplay"`
	ShuffleEnabled    bool              `json:"shuffleEnabled"`
	Items             []json.RawMessage `json:"items"`
	AutomixItems      []json.RawMessage `json:"automixItems"`
	IsGenerating      bool              `json:"isGenerating"`
	IsInfinite        bool              `json:"isInfinite"`
	RepeatMode        json.RawMessage   `json:"repeatMode"`
	SelectedItemIndex int               `json:"selectedItemIndex"`
}

// DecodeQueue decodes the player's queue store snapshot. Unrecognized items
// decode to nil in place; they never fail the whole queue. An empty or null
// snapshot means there is no queue and yields nil.
func DecodeQueue(raw json.RawMessage) (*Queue, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	var r rawQueue
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &Queue{
		Autoplay:          r.Autoplay,
		ShuffleEnabled:    r.ShuffleEnabled,
		Items:             decodeQueueItems(r.Items),
		AutomixItems:      decodeQueueItems(r.AutomixItems),
		IsGenerating:      r.IsGenerating,
		IsInfinite:        r.IsInfinite,
		RepeatMode:        decodeRepeatMode(r.RepeatMode),
		SelectedItemIndex: r.SelectedItemIndex,
	}, nil
}

func decodeRepeatMode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func decodeQueueItems(raw []json.RawMessage) []*QueueItem {
	items := make([]*QueueItem, len(raw))
	for i, r := range raw {
		items[i] = DecodeQueueItem(r)
	}
	return items
}

type textRuns struct {
	Runs []struct {
		Text string `json:"text"`
	} `json:"runs"`
}

func (t *textRuns) first() string {
	if t == nil || len(t.Runs) == 0 {
		return ""
	}
	return t.Runs[0].Text
}

type videoRenderer struct {
	Thumbnail       rawThumbnails `json:"thumbnail"`
	Title           *textRuns     `json:"title"`
	ShortBylineText *textRuns     `json:"shortBylineText"`
	LengthText      *textRuns     `json:"lengthText"`
}

// rawQueueItem is the tagged union of known item shapes: either a bare
// renderer or a wrapper whose primary renderer holds it.
type rawQueueItem struct {
	Renderer *videoRenderer `json:"playlistPanelVideoRenderer"`
	Wrapper  *struct {
		PrimaryRenderer *struct {
			Renderer *videoRenderer `json:"playlistPanelVideoRenderer"`
		} `json:"primaryRenderer"`
	} `json:"playlistPanelVideoWrapperRenderer"`
}

func (r *rawQueueItem) renderer() *videoRenderer {
	if r.Renderer != nil {
		return r.Renderer
	}
	if r.Wrapper != nil && r.Wrapper.PrimaryRenderer != nil {
		return r.Wrapper.PrimaryRenderer.Renderer
	}
	return nil
}

// DecodeQueueItem is total: any input that is not a recognized item shape
// yields nil.
func DecodeQueueItem(raw json.RawMessage) *QueueItem {
	var r rawQueueItem
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	vr := r.renderer()
	if vr == nil {
		return nil
	}
	return &QueueItem{
		Thumbnails: nonNilThumbs(vr.Thumbnail.Thumbnails),
		Title:      vr.Title.first(),
		Author:     vr.ShortBylineText.first(),
		Duration:   vr.LengthText.first(),
	}
}

func nonNilThumbs(t []Thumbnail) []Thumbnail {
	if t == nil {
		return []Thumbnail{}
	}
	return t
}
