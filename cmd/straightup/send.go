package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/sessionlog"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send one command to the wearable",
	Long: `Connect to the wearable, write one command and disconnect.

Commands: START_MONITORING, STOP_MONITORING, VIBRATE:<0-100>, SHUTDOWN, RESTART.
The command is matched case-insensitively.`,
	Example: `  straightup send VIBRATE:60
  straightup send restart --timeout 1m`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

var (
	sendTimeout    time.Duration
	sendAckTimeout time.Duration
)

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 30*time.Second, "How long to look for the wearable")
	sendCmd.Flags().DurationVar(&sendAckTimeout, "ack-timeout", 5*time.Second, "How long to wait for the write confirmation")
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := protocol.ParseCommand(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := openWearable(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	stopLog := followLog(ctx, out, w.session.Log())
	defer stopLog()

	connectCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := w.connect(connectCtx); err != nil {
		return err
	}

	entries, unsubscribe := w.session.Log().Subscribe()
	defer unsubscribe()
	w.session.WriteCommand(string(command))

	ackCtx, cancelAck := context.WithTimeout(ctx, sendAckTimeout)
	defer cancelAck()
	confirmed, err := awaitWrite(ackCtx, entries)
	w.session.Disconnect()
	if err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}

	stopLog()
	if !confirmed {
		logger.WithField("command", command).Warn("Write was not confirmed in time")
		fmt.Fprintf(out, "Sent %s (unconfirmed)\n", command)
		return nil
	}
	fmt.Fprintf(out, "Sent %s\n", command)
	return nil
}

// awaitWrite watches the session log for the outcome of a command write. It
// reports false without an error when the deadline passes first.
func awaitWrite(ctx context.Context, entries <-chan sessionlog.Entry) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return false, nil
			}
			return false, ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return false, errSessionClosed
			}
			switch {
			case strings.HasPrefix(e.Message, "Write confirmed"):
				return true, nil
			case strings.HasPrefix(e.Message, "Write failed"),
				strings.HasPrefix(e.Message, "Write of"),
				strings.HasPrefix(e.Message, "Cannot send"):
				return false, errors.New(e.Message)
			}
		}
	}
}
