package main

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	goble "github.com/srg/straightup/internal/device/go-ble"
	"github.com/srg/straightup/pkg/config"
)

// newRadio opens the configured BLE backend. Tests replace it with a fake.
var newRadio = func(cfg *config.Config, logger *logrus.Logger) (device.Radio, error) {
	if cfg.Radio.Backend == "gatt" {
		return newGattRadio(logger)
	}
	return goble.NewRadio(logger, goble.WithConnectTimeout(cfg.Radio.ConnectTimeout)), nil
}

// closeRadio releases backends that hold an HCI socket.
func closeRadio(radio device.Radio, logger *logrus.Logger) {
	c, ok := radio.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close radio")
	}
}
