//go:build libdivecomputer

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/libdc/native"
	"github.com/srg/dcdl/pkg/config"
)

func newEngine(cfg *config.Config, logger *logrus.Logger) (libdc.Engine, error) {
	e, err := native.New(cfg.NativeLevel(), logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}
