package jsbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	cfg        core.Config
	cfgSet     bool
	logger     *zap.Logger
	registerer prometheus.Registerer
	converters []Converter
}

// WithConfig replaces the default configuration. Use LoadConfig to read it
// from JSBRIDGE_* environment variables.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
		o.cfgSet = true
	}
}

// WithLogger sets the logger. The default logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers the bridge's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithConverters registers type converters before the bridge is used.
func WithConverters(cs ...Converter) Option {
	return func(o *options) { o.converters = append(o.converters, cs...) }
}
