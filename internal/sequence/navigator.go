package sequence

import (
	"errors"
	"sync"
)

// ErrPastEnd is returned by Advance at the final slide of the final page.
var ErrPastEnd = errors.New("advance past end of sequence")

// Position is a (page, slide) index pair.
type Position struct {
	Page  int `json:"page"`
	Slide int `json:"slide"`
}

// Progress describes the current position for a stepper display.
type Progress struct {
	Page       string `json:"page"`
	PageIndex  int    `json:"page_index"`
	PageCount  int    `json:"page_count"`
	Slide      string `json:"slide"`
	SlideIndex int    `json:"slide_index"`
	SlideCount int    `json:"slide_count"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
}

// Navigator walks a Config slide by slide, carrying into the next page the way
// an odometer carries into the next digit. The page digit never wraps.
type Navigator struct {
	mu  sync.RWMutex
	cfg Config
	pos Position
}

// NewNavigator validates cfg and returns a navigator positioned at (0,0).
// The config is copied so later changes by the caller have no effect.
func NewNavigator(cfg Config) (*Navigator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Navigator{cfg: cfg.clone()}, nil
}

// Advance moves to the next slide, or to the first slide of the next page.
func (n *Navigator) Advance() (Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pos.Slide+1 < len(n.slides()) {
		n.pos.Slide++
		return n.pos, nil
	}
	if n.pos.Page+1 >= len(n.cfg.Pages) {
		return n.pos, ErrPastEnd
	}
	n.pos = Position{Page: n.pos.Page + 1}
	return n.pos, nil
}

// Position returns the current indexes.
func (n *Navigator) Position() Position {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pos
}

// CurrentPage returns the id of the active page.
func (n *Navigator) CurrentPage() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.Pages[n.pos.Page]
}

// CurrentSlide returns the id of the active slide.
func (n *Navigator) CurrentSlide() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.slides()[n.pos.Slide]
}

// Done reports whether the navigator sits on the terminal position.
func (n *Navigator) Done() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pos.Page == len(n.cfg.Pages)-1 && n.pos.Slide == len(n.slides())-1
}

// Progress returns the current position with labels and counts.
func (n *Navigator) Progress() Progress {
	n.mu.RLock()
	defer n.mu.RUnlock()

	step := n.pos.Slide
	for _, p := range n.cfg.Pages[:n.pos.Page] {
		step += len(n.cfg.Slides[p])
	}
	slides := n.slides()
	return Progress{
		Page:       n.cfg.Pages[n.pos.Page],
		PageIndex:  n.pos.Page,
		PageCount:  len(n.cfg.Pages),
		Slide:      slides[n.pos.Slide],
		SlideIndex: n.pos.Slide,
		SlideCount: len(slides),
		Step:       step,
		TotalSteps: n.cfg.TotalSlides(),
	}
}

// Config returns a copy of the sequence being walked.
func (n *Navigator) Config() Config {
	return n.cfg.clone()
}

func (n *Navigator) slides() []string {
	return n.cfg.Slides[n.cfg.Pages[n.pos.Page]]
}
