package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"addrscan/internal/application"
	"addrscan/internal/domain"
)

type namedSink struct {
	name string
	sink application.ReportSink
}

// Sinks fans a finished run out to every configured result store. A failing
// sink does not stop the others.
type Sinks struct {
	sinks []namedSink
}

func NewSinks() *Sinks {
	return &Sinks{}
}

func (s *Sinks) Add(name string, sink application.ReportSink) {
	if sink == nil {
		return
	}
	s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
}

func (s *Sinks) Len() int {
	return len(s.sinks)
}

func (s *Sinks) SaveRun(ctx context.Context, report domain.RunReport) error {
	var errs []error
	for _, named := range s.sinks {
		if err := named.sink.SaveRun(ctx, report); err != nil {
			slog.Error("save run failed", "sink", named.name, "run_id", report.RunID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", named.name, err))
			continue
		}
		slog.Info("run saved", "sink", named.name, "run_id", report.RunID, "addresses", len(report.Addresses))
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (s *Sinks) Close() error {
	var errs []error
	for _, named := range s.sinks {
		if closer, ok := named.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", named.name, err))
			}
		}
	}
	return errors.Join(errs...)
}
