package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/straightup/bridge"
	"github.com/srg/straightup/internal/actuator"
	"github.com/srg/straightup/internal/api"
	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/publish"
	"github.com/srg/straightup/internal/session"
	"github.com/srg/straightup/internal/settings"
	"github.com/srg/straightup/pkg/config"
)

const brokerActuationTimeout = 5 * time.Second

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to the wearable and give posture feedback",
	Long: `Find the wearable, connect, and turn its posture signals into feedback
until interrupted with Ctrl+C.

Alerts are shown on the terminal (with a bell when sound is enabled), recorded
in the history and, when a publisher is configured, forwarded to the broker.
When the connection drops the wearable is looked for again.

--api serves the HTTP API on api.listen. --bridge opens a PTY console that
accepts the wearable commands typed in any serial terminal program.`,
	Example: `  straightup monitor
  straightup monitor --api --bridge --symlink /tmp/straightup`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorAPI             bool
	monitorListen          string
	monitorBridge          bool
	monitorSymlink         string
	monitorStartMonitoring bool
	monitorReconnectDelay  time.Duration
	monitorNoColor         bool
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorAPI, "api", false, "Serve the HTTP API")
	monitorCmd.Flags().StringVar(&monitorListen, "listen", "", "API listen address (default: api.listen)")
	monitorCmd.Flags().BoolVar(&monitorBridge, "bridge", false, "Open a PTY console for the wearable")
	monitorCmd.Flags().StringVar(&monitorSymlink, "symlink", "", "Stable symlink to the console PTY (default: bridge.symlink)")
	monitorCmd.Flags().BoolVar(&monitorStartMonitoring, "start-monitoring", true, "Send START_MONITORING once connected")
	monitorCmd.Flags().DurationVar(&monitorReconnectDelay, "reconnect-delay", 5*time.Second, "Pause before scanning again after a disconnect")
	monitorCmd.Flags().BoolVar(&monitorNoColor, "no-color", false, "Disable colored feedback")
}

// monitor holds everything a monitoring run owns, in start order.
type monitor struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer

	settings  *settings.FileStore
	store     history.Store
	publisher publish.Publisher
	wearable  *wearable
	orch      *orchestrator.Orchestrator
	server    *api.Server
	bridge    *bridge.Bridge
	group     groutine.Group
	cancel    context.CancelFunc
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if monitorReconnectDelay <= 0 {
		return fmt.Errorf("invalid --reconnect-delay %s: must be positive", monitorReconnectDelay)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	m := &monitor{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), cancel: cancel}
	defer m.close()
	if err := m.open(ctx); err != nil {
		return err
	}

	stopLog := followLog(ctx, m.out, m.wearable.session.Log())
	defer stopLog()

	err = m.supervise(ctx)
	if err == nil {
		fmt.Fprintln(m.out, "\nStopping...")
	}
	return err
}

// open builds the stores, the session, the orchestrator and the optional
// surfaces. On error the parts opened so far are released by close.
func (m *monitor) open(ctx context.Context) error {
	var err error
	if m.settings, err = openSettingsStore(m.cfg, m.logger); err != nil {
		return err
	}
	if m.store, err = openHistory(ctx, m.cfg); err != nil {
		return err
	}

	pc := m.cfg.Publish
	m.publisher, err = publish.New(publish.Config{
		Driver:   pc.Driver,
		URL:      pc.URL,
		Prefix:   pc.Prefix,
		ClientID: pc.ClientID,
		Username: pc.Username,
		Password: pc.Password,
		QoS:      byte(pc.QoS),
	}, m.logger)
	if err != nil {
		return fmt.Errorf("connect %s publisher: %w", pc.Driver, err)
	}

	if m.wearable, err = openWearable(ctx, m.cfg, m.logger); err != nil {
		return err
	}

	m.orch = orchestrator.New(m.wearable.session, m.store, m.settings, m.actuator(),
		orchestrator.WithPublisher(m.publisher),
		orchestrator.WithLogger(m.logger),
		orchestrator.WithRetention(m.cfg.History.Retention),
	)
	m.orch.Start(ctx)

	if monitorAPI {
		if err := m.startAPI(ctx); err != nil {
			return err
		}
	}
	if monitorBridge {
		if err := m.startBridge(ctx); err != nil {
			return err
		}
	}
	return nil
}

// actuator renders feedback on the terminal and, with a broker configured,
// forwards it for companion devices.
func (m *monitor) actuator() actuator.Actuator {
	opts := []actuator.ConsoleOption{
		actuator.WithBell(func() bool { return m.settings.Current().SoundEnabled }),
	}
	if monitorNoColor {
		opts = append(opts, actuator.WithoutColor())
	}
	acts := actuator.Multi{actuator.NewConsole(m.out, opts...)}
	if m.cfg.Publish.Driver != publish.DriverNone {
		acts = append(acts, actuator.NewBroker(m.publisher, brokerActuationTimeout))
	}
	return acts
}

func (m *monitor) startAPI(ctx context.Context) error {
	listen := monitorListen
	if listen == "" {
		listen = m.cfg.API.Listen
	}
	m.server = api.NewServer(&api.Dependencies{
		Device:   m.wearable.session,
		Posture:  m.orch,
		History:  m.store,
		Settings: m.settings,
		Logger:   m.logger,
		Version:  formatVersion(version),
	})
	addr, err := m.server.Start(ctx, listen)
	if err != nil {
		m.server = nil
		return err
	}
	fmt.Fprintf(m.out, "API listening on http://%s\n", addr)
	return nil
}

func (m *monitor) startBridge(ctx context.Context) error {
	symlink := monitorSymlink
	if symlink == "" {
		symlink = m.cfg.Bridge.Symlink
	}
	b, err := bridge.Open(bridge.Options{Logger: m.logger, TTYSymlinkPath: symlink}, m.orch)
	if err != nil {
		return err
	}
	m.bridge = b

	tty := b.TTYName()
	if b.TTYSymlink() != "" {
		tty = fmt.Sprintf("%s -> %s", b.TTYSymlink(), tty)
	}
	fmt.Fprintf(m.out, "Console available on %s\n", tty)

	m.group.Go(ctx, "monitor-bridge", func(ctx context.Context) {
		b.Run(ctx, m.wearable.session.Log())
	})
	return nil
}

// supervise keeps the wearable connected until ctx is done: it starts the
// first scan, turns monitoring on after every connect and scans again after
// a disconnect. Only a failure of the first scan is returned.
func (m *monitor) supervise(ctx context.Context) error {
	sess := m.wearable.session
	states, cancelStates := sess.SubscribeState()
	defer cancelStates()
	statuses, cancelStatuses := m.orch.Subscribe()
	defer cancelStatuses()

	if err := scanError(sess.StartScan()); err != nil {
		return err
	}

	var (
		rescan  <-chan time.Time
		ready   bool
		posture = m.orch.Status().Posture
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-states:
			if !ok {
				return nil
			}
			switch {
			case st.Phase == session.Ready && !ready:
				ready = true
				fmt.Fprintf(m.out, "Connected to %s\n", describeDevice(st.DeviceAddress, st.DeviceName))
				if monitorStartMonitoring {
					if err := m.orch.StartMonitoring(); err != nil {
						m.logger.WithError(err).Warn("Failed to start monitoring")
					}
				}
			case st.Phase == session.Idle:
				ready = false
				if rescan == nil {
					rescan = time.After(monitorReconnectDelay)
				}
			}

		case <-rescan:
			rescan = nil
			if st := sess.State(); st.Phase != session.Idle {
				continue
			}
			if err := scanError(sess.StartScan()); err != nil {
				m.logger.WithError(err).Warn("Scan did not restart, retrying")
				rescan = time.After(monitorReconnectDelay)
			}

		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if st.Posture != posture {
				posture = st.Posture
				fmt.Fprintf(m.out, "Posture: %s (today %d good / %d bad, score %d%%)\n",
					st.Posture, st.Today.Good, st.Today.Bad, st.Score)
			}
		}
	}
}

// close releases everything open, surfaces first so nothing reaches a closed
// store.
func (m *monitor) close() {
	m.cancel()
	if m.bridge != nil {
		if err := m.bridge.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close console")
		}
	}
	if m.server != nil {
		if err := m.server.Shutdown(); err != nil {
			m.logger.WithError(err).Warn("Failed to stop API")
		}
		if err := m.server.Wait(); err != nil {
			m.logger.WithError(err).Warn("API server failed")
		}
	}
	if m.orch != nil {
		m.orch.Close()
	}
	if m.wearable != nil {
		m.wearable.Close()
	}
	m.group.Wait()
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close history")
		}
	}
	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close publisher")
		}
	}
	if m.settings != nil {
		m.settings.Close()
	}
}
