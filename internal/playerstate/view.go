package playerstate

// View is the public JSON shape served by GET /state and the realtime
// state-update event. Raw codes and playlist ids are not part of it.
type View struct {
	Player PlayerView `json:"player"`
	Video  *VideoView `json:"video"`
}

type PlayerView struct {
	TrackState    TrackState `json:"trackState"`
	VideoProgress float64    `json:"videoProgress"`
	Queue         *QueueView `json:"queue"`
}

type QueueView struct {
	Autoplay          bool             `json:"autoplay"`
	ShuffleEnabled    bool             `json:"shuffleEnabled"`
	Items             []*QueueItemView `json:"items"`
	AutomixItems      []*QueueItemView `json:"automixItems"`
	IsGenerating      bool             `json:"isGenerating"`
	IsInfinite        bool             `json:"isInfinite"`
	RepeatMode        string           `json:"repeatMode"`
	SelectedItemIndex int              `json:"selectedItemIndex"`
}

type QueueItemView struct {
	Thumbnails []Thumbnail `json:"thumbnails"`
	Title      string      `json:"title"`
	Author     string      `json:"author"`
	Duration   string      `json:"duration"`
}

type VideoView struct {
	Author     string      `json:"author"`
	Title      string      `json:"title"`
	Album      string      `json:"album"`
	Thumbnails []Thumbnail `json:"thumbnails"`
	Duration   int         `json:"duration"`
	ID         string      `json:"id"`
}

// NewView projects a snapshot onto the public shape.
func NewView(s *PlayerState) View {
	v := View{
		Player: PlayerView{
			TrackState:    s.TrackState,
			VideoProgress: s.VideoProgress,
		},
	}
	if q := s.Queue; q != nil {
		v.Player.Queue = &QueueView{
			Autoplay:          q.Autoplay,
			ShuffleEnabled:    q.ShuffleEnabled,
			Items:             itemViews(q.Items),
			AutomixItems:      itemViews(q.AutomixItems),
			IsGenerating:      q.IsGenerating,
			IsInfinite:        q.IsInfinite,
			RepeatMode:        q.RepeatMode,
			SelectedItemIndex: q.SelectedItemIndex,
		}
	}
	if d := s.Video; d != nil {
		v.Video = &VideoView{
			Author:     d.Author,
			Title:      d.Title,
			Album:      d.Album,
			Thumbnails: nonNilThumbs(d.Thumbnails),
			Duration:   d.DurationSeconds,
			ID:         d.ID,
		}
	}
	return v
}

func itemViews(items []*QueueItem) []*QueueItemView {
	out := make([]*QueueItemView, len(items))
	for i, it := range items {
		if it == nil {
			continue
		}
		out[i] = &QueueItemView{
			Thumbnails: nonNilThumbs(it.Thumbnails),
			Title:      it.Title,
			Author:     it.Author,
			Duration:   it.Duration,
		}
	}
	return out
}
