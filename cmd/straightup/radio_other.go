//go:build !linux

package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
)

func newGattRadio(*logrus.Logger) (device.Radio, error) {
	return nil, errors.New("the gatt radio backend is only available on linux")
}
