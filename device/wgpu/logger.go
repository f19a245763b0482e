// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import "log/slog"

// discard is the logger of a device until SetLogger is called.
var discard = slog.New(slog.DiscardHandler)

// SetLogger sets the logger of this device. Records carry the device label.
// A nil logger disables logging. fusion.SetLogger propagates to it when a
// computation is created on the device.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		d.logger.Store(discard)
		return
	}
	d.logger.Store(l.With("device", d.cfg.Label))
}

func (d *Device) log() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return discard
}
