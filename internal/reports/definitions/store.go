package definitions

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports"
)

// Store resolves report codes to validated definitions and caches them
// until reloaded
type Store struct {
	source    Source
	validator *Validator
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*reports.ReportDefinition
}

// NewStore creates a definition store over source
func NewStore(source Source, validator *Validator, logger *zap.Logger) *Store {
	if validator == nil {
		validator = NewValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		source:    source,
		validator: validator,
		logger:    logger,
		cache:     make(map[string]*reports.ReportDefinition),
	}
}

// Get returns the definition for code. It fails with a ConfigError when the
// definition is missing, invalid or declares a different code.
func (s *Store) Get(ctx context.Context, code string) (*reports.ReportDefinition, error) {
	s.mu.RLock()
	def, ok := s.cache[code]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := s.source.Load(ctx, code)
	if err != nil {
		if errors.Is(err, reports.ErrNotFound) {
			return nil, &reports.ConfigError{Code: code, Message: "definition not found", Err: reports.ErrNotFound}
		}
		return nil, &reports.ConfigError{Code: code, Message: "failed to load definition", Err: err}
	}

	if def.Meta.Code != code {
		return nil, &reports.ConfigError{
			Code:    code,
			Message: "definition declares code " + def.Meta.Code,
			Err:     reports.ErrCodeMismatch,
		}
	}
	if err := s.validator.Validate(def); err != nil {
		return nil, err
	}
	if def.Meta.Name == "" {
		def.Meta.Name = def.Meta.Code
	}

	s.mu.Lock()
	s.cache[code] = def
	s.mu.Unlock()
	return def, nil
}

// ListAvailable loads every known definition, skipping the ones that fail
func (s *Store) ListAvailable(ctx context.Context) ([]*reports.ReportDefinition, error) {
	codes, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]*reports.ReportDefinition, 0, len(codes))
	for _, code := range codes {
		def, err := s.Get(ctx, code)
		if err != nil {
			s.logger.Warn("Skipping unloadable report definition",
				zap.String("code", code),
				zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Reload evicts one cached definition, or all of them when code is empty
func (s *Store) Reload(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code == "" {
		s.cache = make(map[string]*reports.ReportDefinition)
		return
	}
	delete(s.cache, code)
}

// Validator returns the validator used on load
func (s *Store) Validator() *Validator {
	return s.validator
}
