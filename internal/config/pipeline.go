package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the tunable settings of the communications pipeline. It is
// read from a YAML file so staff can adjust vocabulary and thresholds without
// a deploy.
type Pipeline struct {
	ConfidenceThreshold int                        `yaml:"confidence_threshold"`
	EscalationWindow    time.Duration              `yaml:"escalation_window"`
	MinNoteLength       int                        `yaml:"min_note_length"`
	ExtractTimeout      time.Duration              `yaml:"extract_timeout"`
	AnswerTimeout       time.Duration              `yaml:"answer_timeout"`
	Providers           []string                   `yaml:"providers"`
	Taxonomy            []string                   `yaml:"taxonomy"`
	DistressKeywords    []string                   `yaml:"distress_keywords"`
	Overrides           map[string]WeddingOverride `yaml:"overrides"`
}

// WeddingOverride replaces the global threshold or window for one wedding.
// Zero values fall back to the global setting.
type WeddingOverride struct {
	ConfidenceThreshold int           `yaml:"confidence_threshold"`
	EscalationWindow    time.Duration `yaml:"escalation_window"`
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		ConfidenceThreshold: 75,
		EscalationWindow:    7 * 24 * time.Hour,
		MinNoteLength:       3,
		ExtractTimeout:      20 * time.Second,
		AnswerTimeout:       15 * time.Second,
		Providers:           []string{"chat", "email", "sms", "call", "zoom", "contract"},
		Taxonomy: []string{
			"vendor", "vendor_contact", "guest_count", "decor", "ceremony",
			"allergy", "timeline", "colors", "note",
		},
		DistressKeywords: []string{
			"stressed", "stressful", "anxious", "anxiety", "worried", "overwhelmed",
			"panic", "freaking out", "nervous", "upset", "frustrated", "disappointed",
			"unhappy", "not happy", "angry", "furious", "unacceptable", "terrible",
			"awful", "horrible", "nightmare", "disaster", "ruined", "urgent", "asap",
			"emergency", "immediately", "cancel", "refund", "complaint", "lawyer",
		},
	}
}

// LoadPipeline reads the YAML settings file at path on top of the defaults.
// A missing file is not an error.
func LoadPipeline(path string) (Pipeline, error) {
	cfg := DefaultPipeline()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Pipeline{}, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}
	return cfg, nil
}

func (p Pipeline) Validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 100 {
		return fmt.Errorf("pipeline config: confidence_threshold must be within 0..100, got %d", p.ConfidenceThreshold)
	}
	if p.EscalationWindow <= 0 {
		return fmt.Errorf("pipeline config: escalation_window must be positive")
	}
	if len(p.DistressKeywords) == 0 {
		return fmt.Errorf("pipeline config: distress_keywords must not be empty")
	}
	for weddingID, override := range p.Overrides {
		if override.ConfidenceThreshold < 0 || override.ConfidenceThreshold > 100 {
			return fmt.Errorf("pipeline config: override %s: confidence_threshold out of range", weddingID)
		}
		if override.EscalationWindow < 0 {
			return fmt.Errorf("pipeline config: override %s: negative escalation_window", weddingID)
		}
	}
	return nil
}

// ThresholdFor returns the confidence threshold that applies to a wedding.
func (p Pipeline) ThresholdFor(weddingID string) int {
	if override, ok := p.Overrides[weddingID]; ok && override.ConfidenceThreshold > 0 {
		return override.ConfidenceThreshold
	}
	return p.ConfidenceThreshold
}

// WindowFor returns the escalation window that applies to a wedding.
func (p Pipeline) WindowFor(weddingID string) time.Duration {
	if override, ok := p.Overrides[weddingID]; ok && override.EscalationWindow > 0 {
		return override.EscalationWindow
	}
	return p.EscalationWindow
}

// ProviderEnabled reports whether provider is listed in the enabled set.
func (p Pipeline) ProviderEnabled(provider string) bool {
	for _, name := range p.Providers {
		if name == provider {
			return true
		}
	}
	return false
}
