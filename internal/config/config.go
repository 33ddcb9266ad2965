// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package config reads the daemon's deployment file: which backend each KV
// binding uses, the serving domain, and operational limits. Secrets never
// live in the file; the daemon takes those from flags or the environment.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in a Binding.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendGCS       = "gcs"
	BackendFirestore = "firestore"
)

// Binding configures one logical KV store.
type Binding struct {
	Backend string `yaml:"backend"`
	// Addr and Namespace configure the redis backend.
	Addr      string `yaml:"addr,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
	// Bucket and Prefix configure the gcs backend.
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	// Collection configures the firestore backend.
	Collection string `yaml:"collection,omitempty"`
}

func (b *Binding) validate(name string) error {
	switch b.Backend {
	case BackendMemory:
	case BackendRedis:
		if b.Addr == "" {
			return errors.Errorf("%s: redis backend requires addr", name)
		}
	case BackendGCS:
		if b.Bucket == "" {
			return errors.Errorf("%s: gcs backend requires bucket", name)
		}
	case BackendFirestore:
		if b.Collection == "" {
			return errors.Errorf("%s: firestore backend requires collection", name)
		}
	default:
		return errors.Errorf("%s: unknown backend %q", name, b.Backend)
	}
	return nil
}

// Bindings names the three logical stores. One backend may serve all three;
// the key layout keeps them disjoint.
type Bindings struct {
	Projects   Binding `yaml:"projects"`
	Assets     Binding `yaml:"assets"`
	ServerCode Binding `yaml:"servercode"`
}

// RateLimit bounds per-project serving traffic. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// Watchdog configures stale-project collection. With a QueuePath set,
// deletions dispatch through Cloud Tasks to ControlURL; otherwise they run
// inline against the store.
type Watchdog struct {
	Disabled       bool   `yaml:"disabled,omitempty"`
	QueuePath      string `yaml:"queuePath,omitempty"`
	ServiceAccount string `yaml:"serviceAccount,omitempty"`
	ControlURL     string `yaml:"controlUrl,omitempty"`
}

type Config struct {
	// Domain is the apex serving domain, advertised to clients; requests to
	// {project}.{domain} route by subdomain.
	Domain string `yaml:"domain,omitempty"`
	// GCPProject backs the firestore backend and Cloud Tasks dispatch.
	GCPProject string    `yaml:"gcpProject,omitempty"`
	Bindings   Bindings  `yaml:"bindings"`
	RateLimit  RateLimit `yaml:"rateLimit,omitempty"`
	Watchdog   Watchdog  `yaml:"watchdog,omitempty"`
}

// Default is the zero-infrastructure configuration: everything in memory,
// no rate limit, inline watchdog deletes.
func Default() *Config {
	return &Config{
		Bindings: Bindings{
			Projects:   Binding{Backend: BackendMemory},
			Assets:     Binding{Backend: BackendMemory},
			ServerCode: Binding{Backend: BackendMemory},
		},
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening config")
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a config document, rejecting unknown fields.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for _, binding := range []struct {
		name string
		b    *Binding
	}{
		{"bindings.projects", &c.Bindings.Projects},
		{"bindings.assets", &c.Bindings.Assets},
		{"bindings.servercode", &c.Bindings.ServerCode},
	} {
		if err := binding.b.validate(binding.name); err != nil {
			return err
		}
	}
	needsGCP := c.Bindings.Projects.Backend == BackendFirestore ||
		c.Bindings.Assets.Backend == BackendFirestore ||
		c.Bindings.ServerCode.Backend == BackendFirestore
	if needsGCP && c.GCPProject == "" {
		return errors.New("gcpProject: required by the firestore backend")
	}
	if c.RateLimit.RPS < 0 {
		return errors.New("rateLimit.rps: must be non-negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("rateLimit.burst: must be positive when rps is set")
	}
	if c.Watchdog.QueuePath != "" && c.Watchdog.ControlURL == "" && c.Domain == "" {
		return errors.New("watchdog.controlUrl: required with queuePath unless domain is set")
	}
	return nil
}

// WatchdogControlURL is the base URL queued deletions target: the explicit
// setting when present, otherwise the serving domain.
func (c *Config) WatchdogControlURL() string {
	if c.Watchdog.ControlURL != "" {
		return c.Watchdog.ControlURL
	}
	return "https://" + c.Domain
}
