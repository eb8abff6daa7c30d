package flow

import (
	"github.com/rcliao/dst-flow/internal/sequence"
	"github.com/rcliao/dst-flow/internal/upload"
)

// State is a read-only view of the session for the page layer.
type State struct {
	Started       bool              `json:"started"`
	Finished      bool              `json:"finished"`
	ParticipantID string            `json:"participant_id,omitempty"`
	Degraded      bool              `json:"degraded"`
	Position      sequence.Position `json:"position"`
	Progress      sequence.Progress `json:"progress"`
	Done          bool              `json:"done"`
	AbortOpen     bool              `json:"abort_open"`

	VideoUploads      int  `json:"video_uploads"`
	AllVideosUploaded bool `json:"all_videos_uploaded"`

	PendingUploads int                                      `json:"pending_uploads"`
	Uploads        map[upload.Category]upload.CategoryStats `json:"uploads"`
	ArchiveID      string                                   `json:"archive_id,omitempty"`
}

// State returns the current view.
func (c *Controller) State() State {
	c.mu.Lock()
	st := State{
		Started:   c.started,
		Finished:  c.finished,
		ArchiveID: c.archiveID,
	}
	c.mu.Unlock()

	if st.Started {
		st.ParticipantID = c.gw.ParticipantID()
		st.Degraded = c.gw.Degraded()
	}
	st.Position = c.nav.Position()
	st.Progress = c.nav.Progress()
	st.Done = c.nav.Done()
	st.AbortOpen = c.agg.AbortOpen()
	st.VideoUploads = c.videos.Len()
	st.AllVideosUploaded = c.videos.AllUploaded()
	st.PendingUploads = c.queue.Pending()
	st.Uploads = c.queue.Stats()
	return st
}
