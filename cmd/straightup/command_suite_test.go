package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/testutils"
	"github.com/srg/straightup/pkg/config"
)

const (
	TestWearableAddress = "24:0A:C4:00:00:07"
	TestOtherAddress    = "11:22:33:44:55:66"

	commandTimeout = 10 * time.Second
)

// CommandTestSuite runs commands against a FakeRadio with a private config,
// history and settings file per test. Command suites embed it.
type CommandTestSuite struct {
	testutils.RadioSuite

	DataDir    string
	ConfigPath string
	Retention  string

	originalNewRadio func(*config.Config, *logrus.Logger) (device.Radio, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.RadioSuite.SetupSuite()
	s.originalNewRadio = newRadio
	newRadio = func(*config.Config, *logrus.Logger) (device.Radio, error) {
		return s.Radio, nil
	}
}

func (s *CommandTestSuite) TearDownSuite() {
	newRadio = s.originalNewRadio
}

func (s *CommandTestSuite) SetupTest() {
	s.RadioSuite.SetupTest()
	resetFlags(rootCmd)

	s.DataDir = s.T().TempDir()
	s.ConfigPath = filepath.Join(s.DataDir, "config.yaml")
	s.Retention = "2160h"
	s.WriteConfig("")
}

// WriteConfig writes the test configuration followed by extra YAML.
func (s *CommandTestSuite) WriteConfig(extra string) {
	content := fmt.Sprintf(`log:
  level: error
session:
  unsubscribe_settle: 1ms
  disconnect_settle: 1ms
history:
  driver: duckdb
  dsn: %s
  retention: %s
settings:
  path: %s
api:
  listen: 127.0.0.1:0
%s`, s.HistoryPath(), s.Retention, s.SettingsPath(), extra)
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(content), 0o600))
}

func (s *CommandTestSuite) HistoryPath() string {
	return filepath.Join(s.DataDir, "history.duckdb")
}

func (s *CommandTestSuite) SettingsPath() string {
	return filepath.Join(s.DataDir, "settings.yaml")
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	run := s.Start(ctx, args...)
	return run.Wait()
}

// Start runs the root command in the background.
func (s *CommandTestSuite) Start(ctx context.Context, args ...string) *CommandRun {
	run := &CommandRun{out: &syncBuffer{}, done: make(chan struct{})}
	rootCmd.SetOut(run.out)
	rootCmd.SetErr(run.out)
	rootCmd.SetArgs(append(args, "--config="+s.ConfigPath))
	setContext(rootCmd, ctx)
	go func() {
		defer close(run.done)
		run.err = rootCmd.ExecuteContext(ctx)
	}()
	return run
}

// Connect drives the fakes through discovery to a ready session.
func (s *CommandTestSuite) Connect() {
	s.Radio.EmitScanResult(testutils.NewObservationBuilder().
		WithAddress(TestWearableAddress).
		WithName("POSTURA-ESP32-7").
		WithRSSI(-48).
		Build())
	s.Link.EmitConnected()
	s.Link.EmitServices(testutils.WearableProfile(), nil)
	s.Link.EmitDescriptorWrite(device.DefaultNotifyCharUUID, device.DefaultConfigDescriptorUUID, nil)
}

// WaitForScan blocks until the command has started scanning n times.
func (s *CommandTestSuite) WaitForScan(n int) {
	s.Require().Eventually(func() bool { return s.Radio.Scans() >= n }, 2*time.Second, 5*time.Millisecond,
		"command MUST start scanning")
}

// CommandRun is a command executing in the background.
type CommandRun struct {
	out  *syncBuffer
	done chan struct{}
	err  error
}

// Output returns what the command printed so far.
func (r *CommandRun) Output() string {
	return r.out.String()
}

// Wait blocks until the command returns.
func (r *CommandRun) Wait() (string, error) {
	<-r.done
	return r.out.String(), r.err
}

// syncBuffer is a bytes.Buffer safe for a writing command and a reading test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// so one test's flags never leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// setContext hands ctx to every command. Cobra only fills in a subcommand
// context that is still unset, so a previous run's context would stick.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}
