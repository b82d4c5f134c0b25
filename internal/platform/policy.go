package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"relaybot/internal/domain"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML override of the built-in platform
// definitions:
//
//	platforms:
//	  instagram:
//	    strategies: [ytdlp-stdout, instagram-api, html-scrape]
//	    timeouts: {ytdlp-stdout: 45s}
//	    onInvalidLink: silent
//	  facebook:
//	    enabled: false
type PolicyFile struct {
	Platforms map[string]PlatformOverride `yaml:"platforms"`
}

type PlatformOverride struct {
	Enabled       *bool             `yaml:"enabled"`
	Strategies    []string          `yaml:"strategies"`
	Timeouts      map[string]string `yaml:"timeouts"`
	OnUnresolved  string            `yaml:"onUnresolved"`
	OnInvalidLink string            `yaml:"onInvalidLink"`
}

// LoadPolicyFile reads and validates a policy file. An empty path returns
// an empty policy.
func LoadPolicyFile(path string) (PolicyFile, error) {
	if path == "" {
		return PolicyFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (PolicyFile, error) {
	var pf PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return PolicyFile{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return PolicyFile{}, err
	}
	return pf, nil
}

// Validate checks platform names, strategy names, durations and actions,
// collecting every problem.
func (pf PolicyFile) Validate() error {
	var errs []string
	for name, o := range pf.Platforms {
		if _, err := domain.ParsePlatformTag(name); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		for _, s := range o.Strategies {
			if !knownStrategy(s) {
				errs = append(errs, fmt.Sprintf("%s: unknown strategy %q", name, s))
			}
		}
		for s, d := range o.Timeouts {
			if !knownStrategy(s) {
				errs = append(errs, fmt.Sprintf("%s: timeout for unknown strategy %q", name, s))
			}
			if v, err := time.ParseDuration(d); err != nil || v <= 0 {
				errs = append(errs, fmt.Sprintf("%s: invalid timeout %q for %s", name, d, s))
			}
		}
		if o.OnUnresolved != "" {
			if _, err := domain.ParseAction(o.OnUnresolved); err != nil {
				errs = append(errs, fmt.Sprintf("%s: onUnresolved: %v", name, err))
			}
		}
		if o.OnInvalidLink != "" {
			if _, err := domain.ParseAction(o.OnInvalidLink); err != nil {
				errs = append(errs, fmt.Sprintf("%s: onInvalidLink: %v", name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy file errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// apply merges the override for def into a policy, chain order and
// per-strategy timeouts. Validate has already run.
func (pf PolicyFile) apply(def Definition) (enabled bool, policy domain.Policy, order []string, timeouts map[string]time.Duration, err error) {
	enabled = true
	policy = def.Policy
	order = def.Strategies
	timeouts = map[string]time.Duration{}

	o, ok := pf.Platforms[string(def.Tag)]
	if !ok {
		return enabled, policy, order, timeouts, policy.Validate()
	}
	if o.Enabled != nil {
		enabled = *o.Enabled
	}
	if len(o.Strategies) > 0 {
		order = o.Strategies
	}
	for s, d := range o.Timeouts {
		v, _ := time.ParseDuration(d)
		timeouts[s] = v
	}
	if o.OnUnresolved != "" {
		policy.OnUnresolved = domain.Action(o.OnUnresolved)
	}
	if o.OnInvalidLink != "" {
		policy.OnInvalidLink = domain.Action(o.OnInvalidLink)
	}
	if err := policy.Validate(); err != nil {
		return false, policy, nil, nil, fmt.Errorf("%s: %w", def.Tag, err)
	}
	return enabled, policy, order, timeouts, nil
}
