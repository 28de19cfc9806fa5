package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v2"

	"cf-ips-to-hcloud-fw/internal/logging"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUnreadable = errors.New("unreadable")
	ErrParse      = errors.New("invalid YAML")
	ErrSchema     = errors.New("broken")
	// ErrNoProjects is returned for a well-formed but empty project list. It
	// is not a failure; callers are expected to stop without doing anything.
	ErrNoProjects = errors.New("contains no projects")
)

// Project is one Hetzner Cloud project: an API token and the firewalls in
// it that carry Cloudflare markers.
type Project struct {
	Token     Secret   `yaml:"token"`
	Firewalls []string `yaml:"firewalls"`
}

// Options are the command line settings. Defaults come from the environment
// and are overridden by flags.
type Options struct {
	ConfigFile      string `env:"CF_HCLOUD_FW_CONFIG"`
	Debug           bool   `env:"CF_HCLOUD_FW_DEBUG"`
	Schedule        string `env:"CF_HCLOUD_FW_SCHEDULE"`
	MetricsTextfile string `env:"CF_HCLOUD_FW_METRICS_TEXTFILE"`
	ShowVersion     bool
}

// LoadOptions reads option defaults from environment variables.
func LoadOptions() (*Options, error) {
	opts := &Options{}
	if err := env.Parse(opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return opts, nil
}

// LoadProjects reads and validates the project list stored at filePath.
func LoadProjects(filePath string) ([]Project, error) {
	name := logging.Quote(filePath)

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fileError(name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config file %s is a directory: %w", name, ErrUnreadable)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fileError(name, err)
	}

	projects, err := parseProjects(data)
	if err != nil {
		if errors.Is(err, ErrParse) {
			return nil, fmt.Errorf("error reading config file %s: %w", name, err)
		}
		return nil, fmt.Errorf("config file %s is %w", name, err)
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("config file %s %w", name, ErrNoProjects)
	}
	return projects, nil
}

func fileError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("config file %s %w", name, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("config file %s is %w", name, ErrUnreadable)
	default:
		return fmt.Errorf("config file %s is %w: %v", name, ErrUnreadable, err)
	}
}

// parseProjects decodes the document strictly and validates every project.
func parseProjects(data []byte) ([]Project, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a list of projects, got an empty document", ErrSchema)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a list of projects", ErrSchema)
	}

	var projects []Project
	if err := yaml.UnmarshalStrict(data, &projects); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	for i := range projects {
		if err := checkFirewallNames(items[i]); err != nil {
			return nil, fmt.Errorf("%w: project %d: %v", ErrSchema, i+1, err)
		}
		if err := projects[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: project %d: %v", ErrSchema, i+1, err)
		}
	}
	return projects, nil
}

// checkFirewallNames rejects firewall entries that are not strings. The
// YAML decoder would otherwise turn null into "" and numbers into text.
func checkFirewallNames(item interface{}) error {
	m, ok := item.(map[interface{}]interface{})
	if !ok {
		return nil
	}
	names, ok := m["firewalls"].([]interface{})
	if !ok {
		return nil
	}
	for i, name := range names {
		if _, ok := name.(string); !ok {
			return fmt.Errorf("firewalls[%d] must be a string", i)
		}
	}
	return nil
}

// validate checks required fields and resolves "env:" token references.
func (p *Project) validate() error {
	if p.Token.IsEmpty() {
		return errors.New("token is required")
	}
	if len(p.Firewalls) == 0 {
		return errors.New("firewalls must contain at least one entry")
	}
	token, err := ResolveSecret(p.Token.Reveal())
	if err != nil {
		return fmt.Errorf("token: %v", err)
	}
	p.Token = NewSecret(token)
	return nil
}
