package router

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/envoi/pkg/config"
	"github.com/envoi/pkg/logger"
)

// Table maps Host header values to destinations. It is built once and never
// modified afterwards, so it can be shared between connections without locking.
type Table struct {
	routes   map[string]string
	fallback string
}

// NewTable builds a table from host records. When a hostname appears more
// than once the last record wins.
func NewTable(hosts []config.HostRoute, fallback string, log *logger.Logger) (*Table, error) {
	fb, err := NormalizeDestination(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	t := &Table{
		routes:   make(map[string]string, len(hosts)),
		fallback: fb,
	}

	for i, h := range hosts {
		dest, err := NormalizeDestination(h.Destination)
		if err != nil {
			return nil, fmt.Errorf("host %d (%s): %w", i, h.Host, err)
		}
		if prev, ok := t.routes[h.Host]; ok && log != nil {
			log.Warn("Duplicate host %s: %s replaces %s", h.Host, dest, prev)
		}
		t.routes[h.Host] = dest
		if log != nil {
			log.Debug("Added route %s -> %s", h.Host, dest)
		}
	}

	return t, nil
}

// Load reads the hosts file at path and builds a table from it
func Load(path, fallback string, log *logger.Logger) (*Table, error) {
	hosts, err := config.ReadHosts(path)
	if err != nil {
		return nil, err
	}

	t, err := NewTable(hosts, fallback, log)
	if err != nil {
		return nil, &config.LoadError{Path: path, Err: err}
	}

	log.Info("Loaded %d routes from %s", t.Len(), path)
	return t, nil
}

// CreateDefault writes the example host record to path and returns a table
// holding only that record. A failed write is logged and the table is still
// returned.
func CreateDefault(path, fallback string, log *logger.Logger) (*Table, error) {
	hosts := []config.HostRoute{config.ExampleHost()}

	if err := config.WriteHosts(path, hosts); err != nil {
		log.Error("Failed to write default hosts file %s: %v", path, err)
	} else {
		log.Info("Created default hosts file %s", path)
	}

	return NewTable(hosts, fallback, log)
}

// LoadOrCreate loads path, creating the default file when it does not exist
func LoadOrCreate(path, fallback string, log *logger.Logger) (*Table, error) {
	t, err := Load(path, fallback, log)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("Hosts file %s not found", path)
		return CreateDefault(path, fallback, log)
	}
	return t, err
}

// Lookup returns the destination for host, or the fallback when there is none
func (t *Table) Lookup(host string) string {
	dest, _ := t.Resolve(host)
	return dest
}

// Resolve is Lookup that also reports whether host had a route
func (t *Table) Resolve(host string) (string, bool) {
	if dest, ok := t.routes[host]; ok {
		return dest, true
	}
	return t.fallback, false
}

// Fallback returns the destination used for unmatched hosts
func (t *Table) Fallback() string {
	return t.fallback
}

// Len returns the number of configured hosts
func (t *Table) Len() int {
	return len(t.routes)
}

// Routes returns a copy of the table sorted by host
func (t *Table) Routes() []Route {
	routes := make([]Route, 0, len(t.routes))
	for host, dest := range t.routes {
		routes = append(routes, Route{Host: host, Destination: dest})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Host < routes[j].Host
	})
	return routes
}
