//go:build !libdivecomputer

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/pkg/config"
)

// newEngine reports no engine; BLE and serial port discovery still work.
func newEngine(_ *config.Config, logger *logrus.Logger) (libdc.Engine, error) {
	logger.Debug("Built without libdivecomputer, native engine unavailable")
	return nil, nil
}
