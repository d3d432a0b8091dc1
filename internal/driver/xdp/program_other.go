//go:build !linux

package xdp

import "github.com/sirupsen/logrus"

// program is a no-op stand-in on platforms without the Linux XDP hook:
// attach/detach succeed trivially.
type program struct {
	device string
	logger *logrus.Logger
	loaded bool
}

func newProgram(device string, logger *logrus.Logger) *program {
	return &program{device: device, logger: logger}
}

func (p *program) Load(path string) error {
	p.loaded = true
	p.logger.WithField("device", p.device).Info("xdp program attach is a no-op on this platform")
	return nil
}

func (p *program) Unload() error {
	p.loaded = false
	return nil
}
