// Package alarm implements the one-shot wakeup actor described in spec §4.2.
// In this module Alarms drive batch walltime enforcement and workload-trace
// replay scheduling. Compute-service TTL expiry does not use them: it is a
// timeout on the service's own mailbox receive.
package alarm

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
)

// Payload is the message an Alarm delivers once it fires. Callers define
// their own concrete payload types (e.g. messages.WalltimeExpired) that
// implement actor.Message.
type Payload = actor.Message

// Alarm sleeps until max(0, date-now) simulated seconds have elapsed, then
// sends payload to replyMailbox (§4.2). If the reply mailbox is gone, the
// failure is logged and swallowed — an Alarm never propagates a failure of
// its own.
type Alarm struct {
	Date          simclock.Time
	Host          string
	ReplyMailbox  actor.Name
	Payload       Payload
	logger        zerolog.Logger
}

// New constructs an Alarm. Call Start to spawn it.
func New(date simclock.Time, host string, reply actor.Name, payload Payload) *Alarm {
	return &Alarm{
		Date:         date,
		Host:         host,
		ReplyMailbox: reply,
		Payload:      payload,
		logger:       log.WithComponent("alarm"),
	}
}

// Start spawns the alarm's daemon on sys, returning its handle so the owner
// can observe termination (e.g. to cancel a superseded alarm isn't
// supported directly — callers instead race the alarm's payload against
// other events, per WRENCH's own design).
func (a *Alarm) Start(sys *actor.System, name string) *actor.Handle {
	return sys.Spawn(a.Host, name, func(ctx context.Context, mb *actor.Mailbox) {
		a.logger.Debug().
			Float64("sim_time", float64(sys.Clock.Now())).
			Float64("fire_date", float64(a.Date)).
			Str("host", a.Host).
			Msg("alarm armed")

		if err := sys.Clock.SleepUntil(ctx, a.Date); err != nil {
			return // canceled before firing
		}

		if err := sys.Send(ctx, a.ReplyMailbox, a.Payload); err != nil {
			a.logger.Warn().
				Err(err).
				Str("reply_mailbox", string(a.ReplyMailbox)).
				Msg("alarm could not deliver payload, reply mailbox is gone")
		}
	})
}
