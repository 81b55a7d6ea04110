package rbc

import (
	"github.com/arya-analytics/rbc/internal/broadcast"
	"github.com/arya-analytics/rbc/internal/metrics"
)

// Open starts broadcasting as self over the members of view. Peers are reached
// through t, and published messages are signed with signer.
func Open(self Member, view *View, signer Signer, t Transport, opts ...Option) (Broadcaster, error) {
	o := newOptions(opts...)
	if o.registerer != nil {
		if err := metrics.Register(o.registerer); err != nil {
			return nil, err
		}
	}
	b, err := broadcast.New(broadcast.Config{
		Parameters:     o.params,
		Interval:       o.interval,
		RequestTimeout: o.requestTimeout,
		View:           view,
		Self:           self,
		Signer:         signer,
		Transport:      t,
		Adapter:        o.adapter,
		SweepOnStart:   o.sweepOnStart,
		Clock:          o.clock,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, err
	}
	if o.listener != nil {
		b.SetRoundListener(o.listener)
	}
	o.logger.Debug("configuration", o.fields()...)
	b.Start()
	return &rbc{Broadcaster: b}, nil
}
