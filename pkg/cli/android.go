package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/device"
	"github.com/devicelab-dev/ditto-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
	"github.com/devicelab-dev/ditto-runner/pkg/report"
)

// Device is what commands drive: a snapshot source and an action sink.
type Device interface {
	element.SnapshotSource
	core.ActionSink
}

// connect opens the device selected by --mock-hierarchy or --device.
// fallbackSerial is used when --device is not given.
func connect(ctx context.Context, c *cli.Context, fallbackSerial string) (Device, *report.Device, error) {
	if path := c.String("mock-hierarchy"); path != "" {
		dev, err := mock.LoadHierarchyFile(mock.Config{}, path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using mock device with hierarchy %s", path)
		return dev, &report.Device{
			ID:           dev.Config.DeviceID,
			Platform:     "mock",
			ScreenWidth:  dev.Config.ScreenWidth,
			ScreenHeight: dev.Config.ScreenHeight,
		}, nil
	}

	serial := c.String("device")
	if serial == "" {
		serial = fallbackSerial
	}
	if serial != "" {
		logger.Info("Connecting to Android device: %s", serial)
	} else {
		logger.Info("Auto-detecting Android device...")
	}

	dev, err := device.New(ctx, serial)
	if err != nil {
		logger.Error("Failed to connect to device: %v", err)
		return nil, nil, fmt.Errorf("connect to device: %w", err)
	}

	info := &report.Device{ID: dev.Serial(), Platform: "android"}
	if w, h, err := dev.ScreenSize(ctx); err == nil {
		info.ScreenWidth, info.ScreenHeight = w, h
	}
	if di, err := dev.Info(ctx); err == nil {
		logger.Info("Device info: %s %s, SDK %s, Serial %s, Emulator: %v",
			di.Brand, di.Model, di.SDK, di.Serial, di.IsEmulator)
	}
	return dev, info, nil
}
