package results

import (
	"context"

	"go.uber.org/multierr"
)

// MultiSink writes every row to each of its sinks in order. A failing sink
// does not stop the others from receiving the row.
type MultiSink []Sink

func (m MultiSink) WriteMeta(ctx context.Context, meta Meta) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.WriteMeta(ctx, meta))
	}
	return err
}

func (m MultiSink) Write(ctx context.Context, row Row) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(ctx, row))
	}
	return err
}

func (m MultiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
