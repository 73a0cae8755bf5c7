package session

import (
	"cropkit/internal/enhance"
	"cropkit/internal/geometry"
	"cropkit/internal/viewport"
)

type Dims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// State is a point-in-time copy of the session for the UI.
type State struct {
	Source         string                `json:"source,omitempty"`
	Bytes          int64                 `json:"bytes,omitempty"`
	Generation     uint64                `json:"generation"`
	Raw            *Dims                 `json:"raw,omitempty"`
	Preprocessed   *Dims                 `json:"preprocessed,omitempty"`
	Enhanced       *Dims                 `json:"enhanced,omitempty"`
	FullEnhanced   *Dims                 `json:"fullEnhanced,omitempty"`
	Region         *geometry.Region      `json:"region,omitempty"`
	Gesture        string                `json:"gesture"`
	Settings       enhance.Settings      `json:"settings"`
	Viewport       viewport.Transform    `json:"viewport"`
	Ready          map[enhance.Mode]bool `json:"ready"`
	PreviewID      string                `json:"previewId,omitempty"`
	InitialPending bool                  `json:"initialPending"`
	Pending        bool                  `json:"pending"`
	Runs           int                   `json:"runs"`
	LastError      string                `json:"lastError,omitempty"`
}

func (s *Session) State() State {
	pending := s.runner.Pending()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Source:         s.name,
		Bytes:          s.size,
		Generation:     s.generation,
		Raw:            s.raw.dims(),
		Preprocessed:   s.preprocessed.dims(),
		Enhanced:       s.enhanced.dims(),
		FullEnhanced:   s.fullEnhanced.dims(),
		Gesture:        geometry.Idle.String(),
		Settings:       s.settings,
		Viewport:       s.viewport,
		PreviewID:      s.previewID,
		InitialPending: s.initialPending,
		Pending:        pending,
		Runs:           s.runs,
		Ready: map[enhance.Mode]bool{
			enhance.ModeBasic: s.notReady[enhance.ModeBasic] == nil,
			enhance.ModeAI:    s.notReady[enhance.ModeAI] == nil,
		},
	}
	if s.editor != nil {
		r := s.editor.Region()
		st.Region = &r
		st.Gesture = s.editor.State().String()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// LastError is the most recent failure for the current image, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Working returns the current full-resolution result, falling back to the
// working image.
func (s *Session) Working() *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fullEnhanced != nil {
		return s.fullEnhanced
	}
	return s.preprocessed
}
