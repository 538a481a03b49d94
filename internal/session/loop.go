package session

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/protocol"
)

// run is the only goroutine that touches loop-owned fields.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.teardown("session closing")
			s.publish()
			return
		case ev := <-s.events:
			s.handle(ev)
			s.publish()
		}
	}
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case startScanCmd:
		e.reply <- s.startScan()
	case stopScanCmd:
		s.stopScan()
		close(e.done)
	case writeCmd:
		s.writeCommand(e.text)
	case disconnectCmd:
		s.teardown("disconnect requested")
		close(e.done)
	case queryCmd:
		e.reply <- s.state

	case scanResultEvent:
		s.onScanResult(e)
	case scanFailedEvent:
		s.onScanFailed(e)
	case connStateEvent:
		s.onConnectionState(e)
	case servicesEvent:
		s.onServicesDiscovered(e)
	case descriptorWriteEvent:
		s.onDescriptorWrite(e)
	case characteristicWriteEvent:
		s.onCharacteristicWrite(e)
	case notificationEvent:
		s.onNotification(e)
	default:
		s.logger.WithField("event", ev).Warn("Unhandled session event")
	}
}

// publish pushes the state to subscribers when it changed since the last push.
func (s *Session) publish() {
	s.snapshotMu.Lock()
	changed := s.snapshot != s.state
	s.snapshot = s.state
	s.snapshotMu.Unlock()
	if changed {
		s.stateHub.Publish(s.state)
	}
}

func (s *Session) setPhase(p Phase) {
	if s.state.Phase == p {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"from": s.state.Phase,
		"to":   p,
	}).Debug("Session phase change")
	s.state.Phase = p
}

// ----------------------------
// Scanning
// ----------------------------

func (s *Session) startScan() ScanStatus {
	switch s.radio.State() {
	case device.RadioAbsent:
		s.log.Append("Bluetooth adapter not available")
		return ScanNoAdapter
	case device.RadioPoweredOff:
		s.log.Append("Bluetooth is disabled")
		return ScanRadioDisabled
	}

	switch s.state.Phase {
	case Scanning:
		s.log.Append("Scan already in progress")
		return ScanAlreadyRunning
	case Idle:
	default:
		s.log.Appendf("Scan not started: session is %s", s.state.Phase)
		return ScanBusy
	}

	s.scanGen++
	s.sightings.Store(newSightings())
	if err := s.radio.StartScan(&scanHandler{s: s, gen: s.scanGen}); err != nil {
		failure := device.ClassifyScanError(device.NormalizeError(err))
		s.log.Appendf("Scan failed to start: %s (%v)", failure.Reason, err)
		s.logger.WithError(err).Warn("Radio refused to start scan")
		return ScanFailed
	}

	s.state.Scanning = true
	s.setPhase(Scanning)
	s.log.Appendf("Scan started for %q or service %s", s.identity.NamePattern, s.identity.ServiceUUID)
	return ScanStarted
}

func (s *Session) stopScan() {
	if !s.state.Scanning {
		return
	}
	s.haltScan()
	if s.state.Phase == Scanning {
		s.setPhase(Idle)
	}
	s.log.Append("Scan stopped")
}

// haltScan stops the radio scan and retires the scan generation.
func (s *Session) haltScan() {
	s.step("stop scan", s.radio.StopScan)
	s.scanGen++
	s.state.Scanning = false
}

func (s *Session) onScanResult(e scanResultEvent) {
	if e.gen != s.scanGen || s.state.Phase != Scanning {
		return
	}

	obs := e.obs
	if _, seen := s.sightings.Load().GetOrInsert(obs.Address, obs); seen {
		s.sightings.Load().Set(obs.Address, obs)
	} else {
		line := "Device: " + obs.String()
		if obs.Name != "" && len(obs.Services) > 0 {
			line += " [" + strings.Join(obs.Services, ", ") + "]"
		}
		s.log.Append(line)
	}

	if !s.identity.Matches(obs) {
		return
	}

	s.log.Appendf("Found %s, connecting", obs.String())
	s.haltScan()
	s.connect(obs)
}

func (s *Session) onScanFailed(e scanFailedEvent) {
	if e.gen != s.scanGen || !s.state.Scanning {
		return
	}
	if e.failure.Err != nil {
		s.log.Appendf("Scan failed: %s (%v)", e.failure.Reason, e.failure.Err)
	} else {
		s.log.Appendf("Scan failed: %s", e.failure.Reason)
	}
	s.logger.WithField("reason", e.failure.Reason).Warn("Scan failed")
	s.scanGen++
	s.state.Scanning = false
	s.setPhase(Idle)
}

// ----------------------------
// Connecting
// ----------------------------

func (s *Session) connect(obs device.ScanObservation) {
	s.connGen++
	s.state.DeviceAddress = obs.Address
	s.state.DeviceName = obs.Name
	s.setPhase(Connecting)

	link, err := s.radio.Connect(obs.Address, &linkHandler{s: s, gen: s.connGen})
	if err != nil {
		s.log.Appendf("Connect failed: %v", device.NormalizeError(err))
		s.logger.WithFields(logrus.Fields{
			"address": obs.Address,
			"error":   err,
		}).Error("Failed to connect")
		s.release()
		return
	}
	s.link = link
}

func (s *Session) onConnectionState(e connStateEvent) {
	if e.gen != s.connGen {
		return
	}

	if !e.connected {
		if e.err != nil {
			s.log.Appendf("Disconnected from %s: %v", s.state.DeviceAddress, e.err)
		} else {
			s.log.Appendf("Disconnected from %s", s.state.DeviceAddress)
		}
		s.logger.WithField("address", s.state.DeviceAddress).Info("Device disconnected")
		if s.link != nil {
			s.step("close link", s.link.Close)
		}
		s.release()
		return
	}

	if s.state.Phase != Connecting {
		return
	}
	s.log.Appendf("Connected to %s, discovering services", s.state.DeviceAddress)
	s.logger.WithField("address", s.state.DeviceAddress).Info("Device connected")
	s.setPhase(ServicesDiscovering)
	if err := s.link.DiscoverServices(); err != nil {
		s.log.Appendf("Service discovery failed to start: %v", err)
	}
}

// ----------------------------
// Discovery and subscription
// ----------------------------

func (s *Session) onServicesDiscovered(e servicesEvent) {
	if e.gen != s.connGen || s.state.Phase != ServicesDiscovering {
		return
	}
	if e.err != nil {
		s.log.Appendf("Service discovery failed: %v", e.err)
		return
	}
	for _, svc := range e.services {
		s.logger.WithFields(logrus.Fields{
			"service":         svc.UUID,
			"characteristics": len(svc.Characteristics),
		}).Debug("Discovered service")
	}
	s.log.Appendf("Discovered %d services", len(e.services))

	char, err := device.ResolveNotifyCharacteristic(e.services, s.identity)
	if err != nil {
		s.log.Append(capitalize(err.Error()))
		s.logger.WithError(err).Warn("Wearable profile incomplete")
		return
	}

	s.notifyChar = char
	s.state.NotifyHandle = char.UUID
	s.setPhase(Subscribing)

	if err := s.link.SetNotify(char, true); err != nil {
		s.log.Appendf("Enabling local notifications failed: %v", err)
	}

	cccd := s.identity.ConfigDescriptor()
	if !char.HasDescriptor(cccd) {
		s.log.Append("Config descriptor not found, notifications may not arrive")
		s.becomeReady()
		return
	}
	if err := s.link.WriteDescriptor(char, cccd, device.EnableNotificationValue); err != nil {
		s.log.Appendf("Config descriptor write failed to start: %v", err)
		s.becomeReady()
	}
}

func (s *Session) onDescriptorWrite(e descriptorWriteEvent) {
	if e.gen != s.connGen || s.state.Phase != Subscribing {
		return
	}
	if device.NormalizeUUID(e.descUUID) != s.identity.ConfigDescriptor() {
		return
	}
	if e.err != nil {
		// keep going: the device may still notify
		s.log.Appendf("Config descriptor write failed: %v", errors.Join(device.ErrDescriptorWriteFailed, e.err))
	} else {
		s.state.NotificationsConfirmed = true
		s.log.Append("Notifications enabled")
	}
	s.becomeReady()
}

func (s *Session) becomeReady() {
	s.setPhase(Ready)
	s.logger.WithFields(logrus.Fields{
		"address":   s.state.DeviceAddress,
		"confirmed": s.state.NotificationsConfirmed,
	}).Info("Session ready")
}

// ----------------------------
// Payload I/O
// ----------------------------

func (s *Session) writeCommand(text string) {
	var rejected error
	switch {
	case s.notifyChar == nil || s.link == nil:
		rejected = device.ErrNoHandle
	case !s.notifyChar.CanWrite():
		rejected = device.ErrUnsupportedWrite
	case text == "":
		rejected = &device.WriteRejected{Reason: "empty command"}
	}
	if rejected != nil {
		s.log.Appendf("Cannot send %q: %v", text, rejected)
		return
	}

	if err := s.link.WriteCharacteristic(s.notifyChar, []byte(text)); err != nil {
		s.log.Appendf("Write of %q failed to start: %v", text, device.NormalizeError(err))
		return
	}
	s.log.Appendf("Sent: %s", text)
}

func (s *Session) onCharacteristicWrite(e characteristicWriteEvent) {
	if e.gen != s.connGen {
		return
	}
	if e.err != nil {
		s.log.Appendf("Write failed: %v", e.err)
		return
	}
	s.log.Appendf("Write confirmed: %s", string(e.value))
}

func (s *Session) onNotification(e notificationEvent) {
	if e.gen != s.connGen || s.notifyChar == nil {
		return
	}
	if device.NormalizeUUID(e.charUUID) != device.NormalizeUUID(s.notifyChar.UUID) {
		return
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(e.value), "�"))
	s.state.LatestPayload = text

	p := Payload{Text: text, Category: protocol.Classify(text), ReceivedAt: s.now()}
	s.payloadHub.Publish(p)

	switch p.Category {
	case protocol.Alert:
		s.log.Appendf("Posture alert: %s", text)
	case protocol.Ok:
		s.log.Appendf("Posture ok: %s", text)
	case protocol.Test:
		s.log.Appendf("Test message: %s", text)
	default:
		s.log.Appendf("Received: %s", text)
	}
	s.dispatch.push(p)
}

// release forgets the link and everything resolved through it.
func (s *Session) release() {
	s.connGen++
	s.link = nil
	s.notifyChar = nil
	s.state.NotifyHandle = ""
	s.state.NotificationsConfirmed = false
	s.state.DeviceAddress = ""
	s.state.DeviceName = ""
	s.setPhase(Idle)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
