package fhe

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session is a caller-owned holder of an active [Context], for code that
// builds operators or loads ciphertexts without threading the Context through
// every call site. A Session is safe for concurrent use.
type Session struct {
	mu     sync.RWMutex
	ctx    *Context
	logger *slog.Logger
}

// NewSession returns an empty Session logging to logger, or to
// [slog.Default] if logger is nil.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger}
}

// SetContext installs ctx as the active Context.
func (s *Session) SetContext(ctx *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if ctx != nil {
		s.logger.Debug("active context set",
			slog.String("fingerprint", ctx.Fingerprint().String()),
			slog.Int("ring_dim", ctx.RingDimension()),
			slog.Int("batch_size", ctx.BatchSize()))
	}
}

// Context returns the active Context, or an error wrapping [ErrInvalidState]
// if none is set.
func (s *Session) Context() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return nil, fmt.Errorf("cannot Context: %w: no active context", ErrInvalidState)
	}
	return s.ctx, nil
}

// Logger returns the logger of the Session.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// LoadContext loads a Context from a file and makes it the active one.
func (s *Session) LoadContext(path string) (*Context, error) {
	ctx, err := LoadContext(path)
	if err != nil {
		return nil, err
	}
	s.SetContext(ctx)
	return ctx, nil
}

// LoadCiphertext loads a ciphertext of the active Context from a file.
func (s *Session) LoadCiphertext(path string) (*Ciphertext, error) {

	ctx, err := s.Context()
	if err != nil {
		return nil, fmt.Errorf("cannot LoadCiphertext: %w", err)
	}

	ct, err := LoadCiphertext(path, ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ciphertext loaded", slog.String("path", path), slog.Int("slots", ct.Slots()), slog.Int("level", ct.Level()))

	return ct, nil
}

// Layer is an evaluation step run by [Session.Run].
type Layer interface {
	Name() string
	Forward(ct *Ciphertext) (*Ciphertext, error)
}

// Run evaluates layer on ct, which must belong to the active Context, and
// logs the evaluation time.
func (s *Session) Run(layer Layer, ct *Ciphertext) (*Ciphertext, error) {

	ctx, err := s.Context()
	if err != nil {
		return nil, fmt.Errorf("cannot Run: %w", err)
	}

	if layer == nil {
		return nil, fmt.Errorf("cannot Run: %w: layer is nil", ErrInvalidArgument)
	}

	if err = ctx.checkOperand("Run", ct); err != nil {
		return nil, err
	}

	start := time.Now()

	out, err := layer.Forward(ct)
	if err != nil {
		return nil, err
	}

	s.logger.Info("layer evaluated",
		slog.String("layer", layer.Name()),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("level", out.Level()))

	return out, nil
}
