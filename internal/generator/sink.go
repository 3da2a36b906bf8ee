package generator

import (
	"context"
	"errors"
)

// Sink receives the rendered document.
type Sink interface {
	Write(ctx context.Context, doc *Document) error
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, doc *Document) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
