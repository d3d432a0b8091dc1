// Package config implements the external Configuration Source collaborator:
// it is intentionally thin, treating JSON config file loading as an
// out-of-scope collaborator whose consumed/exposed interface is all this
// package needs to provide.
package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// GraphConfig is the on-disk shape of a graph definition.
type GraphConfig struct {
	Type    string     `json:"type"`
	Name    string     `json:"name"`
	Modules []string   `json:"modules"`
	Links   [][2]string `json:"links"`
}

// NicConfig describes one NIC attached to a stack.
type NicConfig struct {
	AdapterName string `json:"adapter_name"`
	Port        int    `json:"port"`
	IPv4        string `json:"ipv4"`
	Netmask     string `json:"netmask"`
}

// RouteConfig is one static route entry.
type RouteConfig struct {
	IPv4 string `json:"ipv4"`
	CIDR int    `json:"cidr"`
	Nic  int    `json:"nic"`
}

// GraphEntry binds a named graph to the CPUs it should run a replica on.
type GraphEntry struct {
	Name string `json:"name"`
	CPUs []int  `json:"cpus"`
}

// EndpointConfig is the fixed remote peer the illustrative Eth/IPv4/UDP
// transmit modules address every outgoing packet to. There is no control
// plane here, so there is no ARP/route-learned next hop to resolve instead.
type EndpointConfig struct {
	MAC  string `json:"mac"`
	IPv4 string `json:"ipv4"`
	Port uint16 `json:"port"`
}

// StackConfig is the on-disk shape of a stack definition.
type StackConfig struct {
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Nics     []NicConfig    `json:"nics"`
	Routes   []RouteConfig  `json:"routes"`
	Graphs   []GraphEntry   `json:"graphs"`
	Endpoint EndpointConfig `json:"endpoint"`
}

// typeProbe is used to sniff a config file's discriminator before deciding
// which concrete type to unmarshal into.
type typeProbe struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Source holds every Graph/Stack config parsed from a directory.
type Source struct {
	Graphs map[string]GraphConfig
	Stacks map[string]StackConfig
}

// Load walks dir recursively; every regular file is parsed as JSON and
// dispatched by its top-level "type" field. A file missing a recognized
// type, or a duplicate name within a type, is skipped with a warning —
// never fatal, since an operator's config directory may legitimately hold
// unrelated files (README, .gitkeep, and so on).
func Load(dir string, logger *logrus.Logger) (*Source, error) {
	src := &Source{
		Graphs: make(map[string]GraphConfig),
		Stacks: make(map[string]StackConfig),
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", path, readErr)
		}

		var probe typeProbe
		if jsonErr := json.Unmarshal(data, &probe); jsonErr != nil {
			logger.WithField("file", path).WithError(jsonErr).Warn("skipping unparsable config file")
			return nil
		}

		switch probe.Type {
		case "Graph":
			if _, exists := src.Graphs[probe.Name]; exists {
				logger.WithField("name", probe.Name).Warn("duplicate graph config name, skipping")
				return nil
			}
			var gc GraphConfig
			if jsonErr := json.Unmarshal(data, &gc); jsonErr != nil {
				return fmt.Errorf("parsing graph config %s: %w", path, jsonErr)
			}
			src.Graphs[gc.Name] = gc

		case "Stack":
			if _, exists := src.Stacks[probe.Name]; exists {
				logger.WithField("name", probe.Name).Warn("duplicate stack config name, skipping")
				return nil
			}
			var sc StackConfig
			if jsonErr := json.Unmarshal(data, &sc); jsonErr != nil {
				return fmt.Errorf("parsing stack config %s: %w", path, jsonErr)
			}
			src.Stacks[sc.Name] = sc

		default:
			logger.WithFields(logrus.Fields{"file": path, "type": probe.Type}).Warn("skipping config file with unrecognized type")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking config directory %s: %w", dir, err)
	}

	return src, nil
}

// Graph looks up a parsed GraphConfig by name.
func (s *Source) Graph(name string) (GraphConfig, error) {
	gc, ok := s.Graphs[name]
	if !ok {
		return GraphConfig{}, fmt.Errorf("graph config %q not found", name)
	}
	return gc, nil
}

// Stack looks up a parsed StackConfig by name.
func (s *Source) Stack(name string) (StackConfig, error) {
	sc, ok := s.Stacks[name]
	if !ok {
		return StackConfig{}, fmt.Errorf("stack config %q not found", name)
	}
	return sc, nil
}
