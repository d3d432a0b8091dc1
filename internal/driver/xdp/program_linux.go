//go:build linux

package xdp

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// program wraps one attached XDP program: it loads a collection spec or
// falls back to a minimal pass-through, then attaches via link.AttachXDP in
// generic mode for compatibility with NICs lacking native XDP driver
// support.
type program struct {
	device string
	logger *logrus.Logger

	link link.Link
	prog *ebpf.Program
}

func newProgram(device string, logger *logrus.Logger) *program {
	return &program{device: device, logger: logger}
}

// Load attaches path's compiled object to the device, or a minimal
// XDP_PASS program when path is empty or fails to load.
func (p *program) Load(path string) error {
	prog, err := loadProgram(path, p.logger)
	if err != nil {
		return err
	}

	iface, err := netlink.LinkByName(p.device)
	if err != nil {
		prog.Close()
		return fmt.Errorf("xdp: resolving interface %s: %w", p.device, err)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: iface.Attrs().Index,
		Flags:     link.XDPGenericMode,
	})
	if err != nil {
		prog.Close()
		return fmt.Errorf("xdp: attaching to %s: %w", p.device, err)
	}

	p.link = l
	p.prog = prog
	p.logger.WithField("device", p.device).Info("xdp program attached")
	return nil
}

func loadProgram(path string, logger *logrus.Logger) (*ebpf.Program, error) {
	if path != "" {
		spec, err := ebpf.LoadCollectionSpec(path)
		if err == nil {
			var objs struct {
				Program *ebpf.Program `ebpf:"xdp_prog"`
			}
			if err := spec.LoadAndAssign(&objs, nil); err == nil {
				return objs.Program, nil
			}
		}
		logger.WithError(err).Warn("xdp: failed to load program from file, using pass-through")
	}

	// Minimal `return XDP_PASS` program, used when no compiled object is
	// supplied: it lets the adapter exercise the real attach/detach path
	// without requiring a prebuilt .o on disk.
	spec := &ebpf.ProgramSpec{
		Type: ebpf.XDP,
		Instructions: []ebpf.Instruction{
			ebpf.LoadImm(ebpf.R0, 2, ebpf.DWord), // XDP_PASS == 2
			ebpf.Return(),
		},
		License: "GPL",
	}
	prog, err := ebpf.NewProgram(spec)
	if err != nil {
		return nil, fmt.Errorf("xdp: compiling pass-through program: %w", err)
	}
	return prog, nil
}

// Unload detaches and releases the program.
func (p *program) Unload() error {
	if p.link != nil {
		if err := p.link.Close(); err != nil {
			return fmt.Errorf("xdp: detaching: %w", err)
		}
		p.link = nil
	}
	if p.prog != nil {
		p.prog.Close()
		p.prog = nil
	}
	return nil
}
