// Package service holds Cloudtype's business rules.
//
//	Handler (HTTP) → Service (rules, validation) → Repository (SQL)
//
// Services accept plain values, return apperror kinds and never see HTTP.
// Repositories are injected as interfaces so tests run against in-memory
// fakes.
package service

import (
	"errors"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/metrics"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
	MaxPostLength    = 2000
	// MaxBanHours keeps now+duration far from time.Time overflow.
	MaxBanHours = 100 * 365 * 24
)

// Option configures the ambient dependencies shared by every service.
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// WithClock replaces time.Now. Ban expiry is evaluated against it.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// validationError turns an ozzo error into an apperror validation kind.
// Only the first failing field (by name) is reported, matching the single
// Field slot of AppError.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return apperror.ValidationFailed("", err.Error())
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	field := fields[0]
	return apperror.ValidationFailed(field, fmt.Sprintf("%s: %s", field, errs[field].Error()))
}

// maxBytes is a byte-length rule; validation.Length counts runes.
func maxBytes(n int) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return fmt.Errorf("must be at most %d bytes", n)
		}
		return nil
	})
}
