package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reglet-dev/minihost/hosterr"
)

// DefaultCacheSize is the number of compiled schemas kept.
const DefaultCacheSize = 128

// PayloadValidator validates raw JSON against exported capability schemas,
// keeping compiled schemas in an LRU cache.
type PayloadValidator struct {
	source SchemaSource
	cache  *lru.Cache[string, *jsonschema.Schema]
	logger *slog.Logger
}

var _ Validator = (*PayloadValidator)(nil)

type config struct {
	logger    *slog.Logger
	cacheSize int
}

// Option configures a PayloadValidator.
type Option func(*config)

// WithCacheSize sets the number of compiled schemas kept.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewPayloadValidator creates a validator reading schemas from source.
func NewPayloadValidator(source SchemaSource, opts ...Option) (*PayloadValidator, error) {
	cfg := config{logger: slog.Default(), cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache, err := lru.New[string, *jsonschema.Schema](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &PayloadValidator{source: source, cache: cache, logger: cfg.logger}, nil
}

// Validate checks payload against the parameter schema of name. Schema
// violations are reported in the result; err is set only when the
// capability is unknown or the payload is not JSON.
func (v *PayloadValidator) Validate(name string, payload []byte) (*ValidationResult, error) {
	sch, err := v.compiled(name)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, hosterr.Contract("payload", "invalid JSON: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, hosterr.Wrap(hosterr.CodeInternal, err, "validate %s: %v", name, err)
		}
		return &ValidationResult{Errors: flatten(ve)}, nil
	}
	return &ValidationResult{Valid: true}, nil
}

// Forget drops the cached schema of name.
func (v *PayloadValidator) Forget(name string) {
	v.cache.Remove(name)
}

// Cached reports how many compiled schemas are held.
func (v *PayloadValidator) Cached() int {
	return v.cache.Len()
}

func (v *PayloadValidator) compiled(name string) (*jsonschema.Schema, error) {
	if sch, ok := v.cache.Get(name); ok {
		return sch, nil
	}
	doc, ok := v.source.Schema(name)
	if !ok {
		return nil, hosterr.New(hosterr.ClassContract, hosterr.CodeUnknownCapability, "unknown capability: %s", name)
	}

	url := "minihost://capabilities/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "load schema of %s: %v", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "compile schema of %s: %v", name, err)
	}
	v.cache.Add(name, sch)
	v.logger.Debug("compiled payload schema", "capability", name)
	return sch, nil
}

// flatten collects the leaf causes of a validation error.
func flatten(ve *jsonschema.ValidationError) []ValidationError {
	if len(ve.Causes) == 0 {
		return []ValidationError{{Field: ve.InstanceLocation, Message: ve.Message}}
	}
	var out []ValidationError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
