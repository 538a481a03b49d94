//go:build linux

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	gattradio "github.com/srg/straightup/internal/device/gatt"
)

func newGattRadio(logger *logrus.Logger) (device.Radio, error) {
	radio, err := gattradio.NewRadio(logger)
	if err != nil {
		return nil, err
	}
	return radio, nil
}
