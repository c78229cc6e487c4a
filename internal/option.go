package internal

import "github.com/magpielabs/magpie/internal/consolidate"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	summarizer consolidate.Summarizer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithSummarizer overrides the built-in consolidation summarizer.
func WithSummarizer(s consolidate.Summarizer) Option {
	return func(a *application) {
		a.summarizer = s
	}
}
