// Package catalog loads named API endpoints so a batch can be started by
// endpoint name instead of a raw URL prefix and suffix.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownEndpoint is returned by Lookup for a name not in the catalog.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrInvalidCatalog is returned when a catalog file cannot be used.
	ErrInvalidCatalog = errors.New("invalid endpoint catalog")
)

// Endpoint is one configured API. Request URLs are Prefix + id + Suffix.
type Endpoint struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Prefix      string        `yaml:"prefix"`
	Suffix      string        `yaml:"suffix,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// URL returns the request URL for id.
func (e Endpoint) URL(id string) string {
	return e.Prefix + id + e.Suffix
}

// Catalog is a set of endpoints keyed by name.
type Catalog struct {
	endpoints map[string]Endpoint
}

type file struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Parse reads a catalog from YAML:
//
//	endpoints:
//	  - name: dispositions
//	    prefix: https://api.example.com/calls/
//	    suffix: /summary
//	    timeout: 30s
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	c := &Catalog{endpoints: make(map[string]Endpoint, len(f.Endpoints))}
	for i, ep := range f.Endpoints {
		ep.Name = strings.TrimSpace(ep.Name)
		if ep.Name == "" {
			return nil, fmt.Errorf("%w: endpoint %d has no name", ErrInvalidCatalog, i+1)
		}
		if strings.TrimSpace(ep.Prefix) == "" {
			return nil, fmt.Errorf("%w: endpoint %q has no prefix", ErrInvalidCatalog, ep.Name)
		}
		if ep.Timeout < 0 {
			return nil, fmt.Errorf("%w: endpoint %q has a negative timeout", ErrInvalidCatalog, ep.Name)
		}
		if _, dup := c.endpoints[ep.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate endpoint %q", ErrInvalidCatalog, ep.Name)
		}
		c.endpoints[ep.Name] = ep
	}
	return c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- catalog path is user-provided
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Lookup returns the endpoint called name.
func (c *Catalog) Lookup(name string) (Endpoint, error) {
	if c != nil {
		if ep, ok := c.endpoints[strings.TrimSpace(name)]; ok {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
}

// Names returns the endpoint names sorted.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
