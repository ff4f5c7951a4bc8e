package attach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// MaxFileSize is the per-file ceiling for attachments.
const MaxFileSize = 20 << 20 // 20 MiB

// ErrTooLarge wraps size-policy rejections.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Prepared is the transport-ready form of a selected file: base64
// content paired with filename and sniffed media type. It exists only
// pre-send; rendering after the server confirms uses Attachment.
type Prepared struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

// Preparer validates selected files and encodes them for transport.
// Staging is synchronous (size policy only); encoding happens in
// EncodeAll, which must complete before a send may proceed.
type Preparer struct {
	mu     sync.Mutex
	staged []string
	limit  int64
	logger *zap.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithLimit overrides the size ceiling (tests).
func WithLimit(n int64) Option {
	return func(p *Preparer) { p.limit = n }
}

// NewPreparer creates a preparer with the default 20 MiB ceiling.
func NewPreparer(logger *zap.Logger, opts ...Option) *Preparer {
	p := &Preparer{limit: MaxFileSize, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stage adds a local file to the pending attachment set. An oversized
// file is rejected and the staged set is left exactly as it was.
func (p *Preparer) Stage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if info.Size() > p.limit {
		return fmt.Errorf("%s (%d bytes): %w", filepath.Base(path), info.Size(), ErrTooLarge)
	}
	p.staged = append(p.staged, path)
	return nil
}

// Staged returns the file names currently staged, in selection order.
func (p *Preparer) Staged() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.staged))
	for i, path := range p.staged {
		names[i] = filepath.Base(path)
	}
	return names
}

// Len returns the number of staged files.
func (p *Preparer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.staged)
}

// Clear drops the staged set (after a successful send, or on cancel).
func (p *Preparer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staged = nil
}

// EncodeAll reads and encodes every staged file concurrently. It is
// all-or-nothing: if any file fails to read or encode, the whole set is
// aborted with a single error and nothing may be sent. The staged set
// itself is preserved so the user can retry.
func (p *Preparer) EncodeAll(ctx context.Context) ([]Prepared, error) {
	p.mu.Lock()
	paths := make([]string, len(p.staged))
	copy(paths, p.staged)
	p.mu.Unlock()

	if len(paths) == 0 {
		return nil, nil
	}

	prepared := make([]Prepared, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			prepared[i], errs[i] = encodeFile(path)
		}(i, path)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("attachment encoding failed", zap.String("file", paths[i]), zap.Error(err))
			}
			return nil, fmt.Errorf("encode %s: %w", filepath.Base(paths[i]), err)
		}
	}
	return prepared, nil
}

func encodeFile(path string) (Prepared, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{
		Name:      filepath.Base(path),
		MediaType: mimetype.Detect(data).String(),
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}
