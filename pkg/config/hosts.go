package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultHostsFile is the routing file read at startup
const DefaultHostsFile = "Hosts.yaml"

// HostRoute is one entry of the hosts file
type HostRoute struct {
	Host        string    `yaml:"host" json:"host"`
	Destination string    `yaml:"destination" json:"destination"`
	TLS         *TLSFiles `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSFiles names a per-host key pair. It is carried through configuration
// but all connections are terminated with the single process-wide pair.
type TLSFiles struct {
	Public  string `yaml:"public" json:"public"`
	Private string `yaml:"private" json:"private"`
}

// LoadError reports a hosts file that could not be read or parsed
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load hosts file %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ExampleHost returns the record written when no hosts file exists
func ExampleHost() HostRoute {
	return HostRoute{
		Host:        "emby.example.com",
		Destination: "http://192.168.68.100:8096",
		TLS: &TLSFiles{
			Public:  "./public.pem",
			Private: "./private.pem",
		},
	}
}

// ReadHosts loads the host records from path. JSON documents are accepted
// as well since they are valid YAML.
func ReadHosts(path string) ([]HostRoute, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var hosts []HostRoute
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("failed to parse: %w", err)}
	}

	for i, h := range hosts {
		if h.Host == "" {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("entry %d: host is required", i)}
		}
		if h.Destination == "" {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("entry %d (%s): destination is required", i, h.Host)}
		}
	}

	return hosts, nil
}

// WriteHosts persists host records to path as YAML
func WriteHosts(path string, hosts []HostRoute) error {
	data, err := MarshalHosts(hosts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	return nil
}

// MarshalHosts encodes host records the way they are stored on disk
func MarshalHosts(hosts []HostRoute) ([]byte, error) {
	data, err := yaml.Marshal(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hosts: %w", err)
	}
	return data, nil
}
