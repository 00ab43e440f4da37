// Package config loads the yaml configuration of the node and authority
// processes. Fields missing from a file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/policytxn/core/auth"
	"github.com/sushant-115/policytxn/core/coordinator"
	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/core/simtime"
	"github.com/sushant-115/policytxn/pkg/logger"
	"github.com/sushant-115/policytxn/pkg/telemetry"
)

// Latency is the simulated cost model of a node.
type Latency struct {
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
	Network time.Duration `yaml:"network"`
}

// Node configures one transaction node process.
type Node struct {
	NodeID int `yaml:"node_id"`
	// Directory is the path of the node directory file.
	Directory string `yaml:"directory"`
	// Listen overrides the address the directory assigns to NodeID.
	Listen string `yaml:"listen"`

	SleepMode      string `yaml:"sleep_mode"`
	Seed           int64  `yaml:"seed"`
	ValidationMode int    `yaml:"validation_mode"`
	PushMode       int    `yaml:"push_mode"`
	Proof          string `yaml:"proof"`

	Auth      auth.Gate `yaml:"auth"`
	Integrity auth.Gate `yaml:"integrity"`
	Latency   Latency   `yaml:"latency"`

	DialTimeout          time.Duration `yaml:"dial_timeout"`
	PeerTimeout          time.Duration `yaml:"peer_timeout"`
	AcceptRate           float64       `yaml:"accept_rate"`
	InitialPolicyVersion uint64        `yaml:"initial_policy_version"`

	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DefaultNode returns the configuration used when no file is given.
func DefaultNode() Node {
	return Node{
		NodeID:               1,
		Directory:            "nodes.yaml",
		SleepMode:            simtime.Logical.String(),
		Seed:                 1,
		Proof:                protocol.Punctual.String(),
		Auth:                 auth.Gate{SuccessRate: 1, Latency: time.Millisecond},
		Integrity:            auth.Gate{SuccessRate: 1, Latency: time.Millisecond},
		Latency:              Latency{Read: time.Millisecond, Write: 2 * time.Millisecond, Network: 5 * time.Millisecond},
		DialTimeout:          2 * time.Second,
		PeerTimeout:          30 * time.Second,
		InitialPolicyVersion: 1,
		Logger:               logger.Default(),
		Telemetry:            telemetry.Config{ServiceName: "txnode", PrometheusPort: 9464},
	}
}

// LoadNode reads path over the defaults and validates the result.
func LoadNode(path string) (Node, error) {
	c := DefaultNode()
	if err := load(path, &c); err != nil {
		return Node{}, err
	}
	if err := c.Validate(); err != nil {
		return Node{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks every enumerated and ranged field.
func (c Node) Validate() error {
	var errs []error
	if c.Directory == "" {
		errs = append(errs, errors.New("directory is required"))
	}
	if _, err := simtime.ParseMode(c.SleepMode); err != nil {
		errs = append(errs, err)
	}
	if !protocol.ValidationMode(c.ValidationMode).Valid() {
		errs = append(errs, fmt.Errorf("validation_mode %d out of range", c.ValidationMode))
	}
	if !policy.PushMode(c.PushMode).Valid() {
		errs = append(errs, fmt.Errorf("push_mode %d out of range", c.PushMode))
	}
	if _, err := protocol.ParseProof(c.Proof); err != nil {
		errs = append(errs, err)
	}
	for name, g := range map[string]auth.Gate{"auth": c.Auth, "integrity": c.Integrity} {
		if g.SuccessRate < 0 || g.SuccessRate > 1 {
			errs = append(errs, fmt.Errorf("%s.success_rate %v not in [0,1]", name, g.SuccessRate))
		}
	}
	if c.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("accept_rate %v is negative", c.AcceptRate))
	}
	return errors.Join(errs...)
}

// Parameters returns the protocol parameters sessions start with.
func (c Node) Parameters() protocol.Parameters {
	proof, _ := protocol.ParseProof(c.Proof)
	return protocol.Parameters{
		Proof:          proof,
		ValidationMode: protocol.ValidationMode(c.ValidationMode),
		PushMode:       policy.PushMode(c.PushMode),
	}
}

// Mode returns the configured sleep mode. c must be valid.
func (c Node) Mode() simtime.Mode {
	m, _ := simtime.ParseMode(c.SleepMode)
	return m
}

// CoordinatorLatency converts Latency for the engine.
func (c Node) CoordinatorLatency() coordinator.Latency {
	return coordinator.Latency{Read: c.Latency.Read, Write: c.Latency.Write, Network: c.Latency.Network}
}

// Authority configures the policy version authority process.
type Authority struct {
	// Listen overrides the authority endpoint of the directory.
	Listen         string        `yaml:"listen"`
	Directory      string        `yaml:"directory"`
	InitialVersion uint64        `yaml:"initial_version"`
	BumpInterval   time.Duration `yaml:"bump_interval"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
	Logger         logger.Config `yaml:"logger"`
}

// DefaultAuthority returns the configuration used when no file is given.
func DefaultAuthority() Authority {
	return Authority{
		Directory:      "nodes.yaml",
		InitialVersion: 1,
		NotifyTimeout:  2 * time.Second,
		Logger:         logger.Default(),
	}
}

// LoadAuthority reads path over the defaults and validates the result.
func LoadAuthority(path string) (Authority, error) {
	c := DefaultAuthority()
	if err := load(path, &c); err != nil {
		return Authority{}, err
	}
	if err := c.Validate(); err != nil {
		return Authority{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the authority configuration.
func (c Authority) Validate() error {
	if c.Directory == "" && c.Listen == "" {
		return errors.New("either directory or listen is required")
	}
	if c.BumpInterval < 0 {
		return fmt.Errorf("bump_interval %v is negative", c.BumpInterval)
	}
	return nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
