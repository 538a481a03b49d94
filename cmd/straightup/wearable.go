package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/session"
	"github.com/srg/straightup/internal/sessionlog"
	"github.com/srg/straightup/pkg/config"
)

var errSessionClosed = errors.New("session closed")

// wearable is the radio and the session built from the configuration.
type wearable struct {
	logger  *logrus.Logger
	radio   device.Radio
	session *session.Session
}

// openWearable creates the radio and starts an idle session on it.
func openWearable(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*wearable, error) {
	id, err := device.ParseIdentity(cfg.Radio.NamePattern, cfg.Radio.ServiceUUID,
		cfg.Radio.NotifyCharUUID, cfg.Radio.ConfigDescriptorUUID)
	if err != nil {
		return nil, fmt.Errorf("wearable identity: %w", err)
	}

	radio, err := newRadio(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s radio: %w", cfg.Radio.Backend, err)
	}

	log := sessionlog.New(logger, sessionlog.WithCapacity(cfg.Session.LogCapacity))
	sess := session.New(radio,
		session.WithIdentity(id),
		session.WithLogger(logger),
		session.WithSessionLog(log),
		session.WithSettleDelays(cfg.Session.UnsubscribeSettle, cfg.Session.DisconnectSettle),
	)
	sess.Start(ctx)

	return &wearable{logger: logger, radio: radio, session: sess}, nil
}

// Close tears the session down and releases the radio.
func (w *wearable) Close() {
	w.session.Close()
	closeRadio(w.radio, w.logger)
}

// connect scans for the wearable and waits until its notifications are enabled.
func (w *wearable) connect(ctx context.Context) (session.State, error) {
	if err := scanError(w.session.StartScan()); err != nil {
		return session.State{}, err
	}
	st, err := waitForPhase(ctx, w.session, session.Ready)
	if errors.Is(err, context.DeadlineExceeded) {
		return st, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return st, err
}

// waitForPhase blocks until the session reaches want.
func waitForPhase(ctx context.Context, sess *session.Session, want session.Phase) (session.State, error) {
	states, cancel := sess.SubscribeState()
	defer cancel()

	if st := sess.State(); st.Phase == want {
		return st, nil
	}
	for {
		select {
		case <-ctx.Done():
			return session.State{}, ctx.Err()
		case st, ok := <-states:
			if !ok {
				return session.State{}, errSessionClosed
			}
			if st.Phase == want {
				return st, nil
			}
		}
	}
}

// followLog prints session log entries to out until the returned stop func
// is called. Entries appended before stop are flushed by it.
func followLog(ctx context.Context, out io.Writer, log *sessionlog.Log) (stop func()) {
	entries, unsubscribe := log.Subscribe()
	ctx, cancel := context.WithCancel(ctx)

	var g groutine.Group
	g.Go(ctx, "cli-log-follow", func(ctx context.Context) {
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				fmt.Fprintln(out, e.String())
			case <-ctx.Done():
				for {
					select {
					case e, ok := <-entries:
						if !ok {
							return
						}
						fmt.Fprintln(out, e.String())
					default:
						return
					}
				}
			}
		}
	})

	return func() {
		cancel()
		g.Wait()
		unsubscribe()
	}
}
