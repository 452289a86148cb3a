//go:build linux

package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

// WaitForCamera blocks until udev reports a new video4linux capture device
// and returns its device node.
func WaitForCamera(ctx context.Context, logger *zap.Logger) (string, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return "", fmt.Errorf("failed to connect to netlink socket: %w", err)
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, cameraMatcher())
	defer close(quit)

	logger.Info("waiting for a camera to be connected")
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev := <-queue:
			if dev := cameraDevice(ev); dev != "" {
				logger.Info("camera connected", zap.String("device", dev))
				return dev, nil
			}
			logger.Debug("ignoring udev event without device node", zap.String("kobj", ev.KObj))
		case err := <-errs:
			logger.Warn("netlink monitor error", zap.Error(err))
		}
	}
}

// cameraMatcher matches SUBSYSTEM=video4linux, ACTION=add.
func cameraMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func cameraDevice(ev netlink.UEvent) string {
	dev := strings.TrimSpace(ev.Env["DEVNAME"])
	if dev == "" {
		return ""
	}
	if !strings.HasPrefix(dev, "/dev/") {
		dev = "/dev/" + dev
	}
	return dev
}
