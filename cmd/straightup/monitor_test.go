package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/history"
	"github.com/stretchr/testify/suite"
)

type MonitorTestSuite struct {
	CommandTestSuite
	cancel context.CancelFunc
	run    *CommandRun
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func (s *MonitorTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.Link.ExpectDefaults()
	s.Radio.ExpectDefaults(s.Link)
}

func (s *MonitorTestSuite) start(args ...string) {
	var ctx context.Context
	ctx, s.cancel = context.WithTimeout(context.Background(), commandTimeout)
	s.run = s.Start(ctx, append([]string{"monitor", "--no-color", "--reconnect-delay", "50ms"}, args...)...)
}

// stop interrupts the command the way Ctrl+C does and returns its output.
func (s *MonitorTestSuite) stop() string {
	s.cancel()
	out, err := s.run.Wait()
	s.Require().NoError(err, "interrupting monitor MUST NOT be an error")
	return out
}

func (s *MonitorTestSuite) waitOutput(substr string) {
	s.Require().Eventually(func() bool { return strings.Contains(s.run.Output(), substr) },
		2*time.Second, 5*time.Millisecond, "output MUST contain %q; got:\n%s", substr, s.run.Output())
}

func (s *MonitorTestSuite) waitWritten(text string) {
	s.Require().Eventually(func() bool {
		return slices.Contains(s.Recorder.Entries(), "WriteCharacteristic "+text)
	}, 2*time.Second, 5*time.Millisecond, "%s MUST be written", text)
}

func (s *MonitorTestSuite) TestMonitor_FeedbackLoop() {
	// GOAL: Verify monitor connects, starts monitoring, records alerts and reconnects after a drop
	//
	// TEST SCENARIO: connect → START_MONITORING → ALERTA → vibrate + bad posture stored → link lost → rescan → Ctrl+C
	s.start()
	s.WaitForScan(1)
	s.Connect()

	s.waitOutput("Connected to " + TestWearableAddress)
	s.waitWritten("START_MONITORING")
	s.waitOutput("Posture: good")

	s.Link.EmitNotification(device.DefaultNotifyCharUUID, []byte("ALERTA: slouching"))
	s.waitWritten("VIBRATE:100")
	s.waitOutput("Posture: bad (today 0 good / 1 bad, score 0%)")

	s.Link.EmitDisconnected(errors.New("link lost"))
	s.WaitForScan(2)

	out := s.stop()
	s.Contains(out, "Posture alert: ALERTA: slouching")
	s.Contains(out, "Stopping...")

	store, err := history.Open(context.Background(), history.DriverDuckDB, s.HistoryPath())
	s.Require().NoError(err)
	defer store.Close()
	events, err := store.Recent(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(history.BadPosture, events[0].Type)
}

func (s *MonitorTestSuite) TestMonitor_WithoutAutoStart() {
	s.start("--start-monitoring=false")
	s.WaitForScan(1)
	s.Connect()
	s.waitOutput("Connected to")

	s.stop()
	s.NotContains(s.Recorder.Entries(), "WriteCharacteristic START_MONITORING")
}

func (s *MonitorTestSuite) TestMonitor_API() {
	// GOAL: Verify --api serves the live session and posture status
	//
	// TEST SCENARIO: monitor --api → connect → GET /api/status and /api/session reflect the connection
	s.start("--api")
	s.waitOutput("API listening on http://")
	base := regexp.MustCompile(`API listening on (http://\S+)`).FindStringSubmatch(s.run.Output())[1]

	s.WaitForScan(1)
	s.Connect()
	s.waitWritten("START_MONITORING")

	var status struct {
		Posture    string `json:"posture"`
		Monitoring bool   `json:"monitoring"`
		Connected  bool   `json:"connected"`
	}
	s.Require().Eventually(func() bool {
		return s.getJSON(base+"/api/status", &status) && status.Monitoring
	}, 2*time.Second, 10*time.Millisecond)
	s.True(status.Connected)
	s.Equal("good", status.Posture)

	var sess struct {
		State struct {
			Phase         string `json:"phase"`
			DeviceAddress string `json:"device_address"`
		} `json:"state"`
	}
	s.Require().True(s.getJSON(base+"/api/session", &sess))
	s.Equal("ready", sess.State.Phase)
	s.Equal(TestWearableAddress, sess.State.DeviceAddress)

	s.stop()
	_, err := http.Get(base + "/health")
	s.Error(err, "API MUST stop with the command")
}

func (s *MonitorTestSuite) getJSON(url string, v any) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(v) == nil
}

func (s *MonitorTestSuite) TestMonitor_Bridge() {
	master, slave, err := pty.Open()
	if err != nil {
		s.T().Skipf("PTY not available: %v", err)
	}
	_ = master.Close()
	_ = slave.Close()

	link := filepath.Join(s.DataDir, "straightup.tty")
	s.start("--bridge", "--symlink", link)
	s.waitOutput("Console available on " + link + " -> ")
	target, err := os.Readlink(link)
	s.Require().NoError(err)
	s.NotEmpty(target)

	s.stop()
	_, err = os.Lstat(link)
	s.True(os.IsNotExist(err), "symlink MUST be removed on exit")
}

func (s *MonitorTestSuite) TestMonitor_RadioDisabled() {
	s.RadioSuite.SetupTest()
	s.Radio.On("State").Return(device.RadioPoweredOff)

	_, err := s.ExecuteCommand("monitor")
	s.Require().ErrorIs(err, ErrRadioDisabled)
}
