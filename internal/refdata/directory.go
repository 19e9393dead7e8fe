package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Directory fronts a Provider and records contacts in the background.
// It satisfies grants.OrganizationDirectory.
type Directory struct {
	Provider
	writer   ContactWriter
	logger   *slog.Logger
	validate *validator.Validate
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDirectory constructs a Directory.
func NewDirectory(provider Provider, writer ContactWriter, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		Provider: provider,
		writer:   writer,
		logger:   logger,
		validate: validator.New(),
		timeout:  5 * time.Second,
	}
}

// CreateContact validates the contact and stores it without waiting for the
// write to finish. Storage failures are logged.
func (d *Directory) CreateContact(ctx context.Context, c Contact) error {
	if err := d.validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContact, err)
	}
	if d.writer == nil {
		return nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if _, err := d.writer.CreateContact(wctx, c); err != nil {
			d.logger.Warn("create contact failed", slog.Int64("org_id", c.OrgID), slog.Any("error", err))
		}
	}()
	return nil
}

// Wait blocks until background contact writes have finished.
func (d *Directory) Wait() {
	d.wg.Wait()
}
