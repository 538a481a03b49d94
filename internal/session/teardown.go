package session

import (
	"errors"
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
)

// teardown runs the ordered disconnect sequence. Every step is isolated: a
// failure or panic is logged and the next step still runs.
func (s *Session) teardown(reason string) {
	if s.state.Scanning {
		s.haltScan()
		s.log.Append("Scan stopped")
	}

	if s.link == nil {
		if s.state.Phase != Idle {
			s.release()
		}
		return
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.state.DeviceAddress,
		"reason":  reason,
	}).Info("Disconnecting from device")
	s.log.Appendf("Disconnecting from %s", s.state.DeviceAddress)
	s.setPhase(Disconnecting)
	s.publish()

	link := s.link
	if char := s.notifyChar; char != nil {
		s.step("disable notifications", func() error {
			return link.SetNotify(char, false)
		})
		if cccd := s.identity.ConfigDescriptor(); char.HasDescriptor(cccd) {
			s.step("write notification disable value", func() error {
				return link.WriteDescriptor(char, cccd, device.DisableNotificationValue)
			})
		}
	}

	s.sleep(s.unsubscribeSettle)
	s.step("hardware disconnect", link.Disconnect)
	s.sleep(s.disconnectSettle)

	if refresher, ok := link.(device.CacheRefresher); ok {
		s.step("refresh device cache", refresher.RefreshCache)
	}
	s.step("close link", link.Close)

	s.release()
	s.log.Append("Disconnected")
}

// step runs one best-effort operation and logs its failure.
func (s *Session) step(name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	if errors.Is(err, device.ErrUnsupported) {
		s.logger.WithField("step", name).Debug("Step not supported by radio backend")
		return
	}
	s.log.Appendf("Failed to %s: %v", name, err)
	s.logger.WithFields(logrus.Fields{
		"step":  name,
		"error": err,
	}).Warn("Session step failed")
}

func newSightings() *hashmap.Map[string, device.ScanObservation] {
	return hashmap.New[string, device.ScanObservation]()
}
