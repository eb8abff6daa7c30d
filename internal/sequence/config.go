// Package sequence defines the fixed page/slide order of a study run and the
// navigator that walks it.
package sequence

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid sequence config")

// Config is the ordered list of pages and, per page, its ordered slides.
type Config struct {
	Pages  []string            `yaml:"pages" json:"pages"`
	Slides map[string][]string `yaml:"slides" json:"slides"`
}

// Default returns the Digital Stress Test sequence.
func Default() Config {
	return Config{
		Pages: []string{
			"startPage",
			"introduction",
			"mathTaskTutorial",
			"mathTask",
			"mathTaskResult",
			"speechTaskTutorial",
			"speechTask",
			"endPage",
		},
		Slides: map[string][]string{
			"startPage":          {"startPage"},
			"introduction":       {"intro", "consent", "vas", "panas", "calibration"},
			"mathTaskTutorial":   {"intro", "comparison", "countdown"},
			"mathTask":           {"mathTask"},
			"mathTaskResult":     {"mathTaskResult"},
			"speechTaskTutorial": {"vas", "transition", "intro"},
			"speechTask":         {"speechTask"},
			"endPage":            {"vas", "panas", "explanation", "questionnaire"},
		},
	}
}

// Load reads a YAML sequence file and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read sequence file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse sequence file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the sequence is non-empty and every page has slides.
func (c Config) Validate() error {
	if len(c.Pages) == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidConfig)
	}
	for i, p := range c.Pages {
		if p == "" {
			return fmt.Errorf("%w: page %d has an empty id", ErrInvalidConfig, i)
		}
		slides, ok := c.Slides[p]
		if !ok || len(slides) == 0 {
			return fmt.Errorf("%w: page %q has no slides", ErrInvalidConfig, p)
		}
		for j, s := range slides {
			if s == "" {
				return fmt.Errorf("%w: page %q slide %d has an empty id", ErrInvalidConfig, p, j)
			}
		}
	}
	return nil
}

// TotalSlides returns the number of (page, slide) positions in the sequence.
func (c Config) TotalSlides() int {
	n := 0
	for _, p := range c.Pages {
		n += len(c.Slides[p])
	}
	return n
}

func (c Config) clone() Config {
	out := Config{
		Pages:  append([]string(nil), c.Pages...),
		Slides: make(map[string][]string, len(c.Slides)),
	}
	for k, v := range c.Slides {
		out.Slides[k] = append([]string(nil), v...)
	}
	return out
}
