// Package directory is the static node id -> address table shared read-only
// by every session of a process.
package directory

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrUnknownNode is returned by Lookup for ids missing from the directory.
var ErrUnknownNode = errors.New("unknown node")

// NodeDescriptor locates one node of the fleet.
type NodeDescriptor struct {
	ID      int    `yaml:"id"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HostPort returns the dialable "address:port" form.
func (n NodeDescriptor) HostPort() string {
	return net.JoinHostPort(n.Address, strconv.Itoa(n.Port))
}

// Endpoint is an address without a node id, used for the authority.
type Endpoint struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HostPort returns the dialable "address:port" form.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

type file struct {
	Authority *Endpoint        `yaml:"authority"`
	Nodes     []NodeDescriptor `yaml:"nodes"`
}

// Directory is immutable after construction and safe for concurrent reads.
type Directory struct {
	nodes     map[int]NodeDescriptor
	ids       []int
	authority *Endpoint
}

// New builds a Directory. authority may be nil.
func New(nodes []NodeDescriptor, authority *Endpoint) (*Directory, error) {
	d := &Directory{nodes: make(map[int]NodeDescriptor, len(nodes))}
	for _, n := range nodes {
		if _, dup := d.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d in directory", n.ID)
		}
		if n.Address == "" || n.Port <= 0 {
			return nil, fmt.Errorf("node %d has an incomplete address %q:%d", n.ID, n.Address, n.Port)
		}
		d.nodes[n.ID] = n
		d.ids = append(d.ids, n.ID)
	}
	sort.Ints(d.ids)
	if authority != nil {
		a := *authority
		d.authority = &a
	}
	return d, nil
}

// Load reads a yaml directory file:
//
//	authority: {address: 127.0.0.1, port: 7000}
//	nodes:
//	  - {id: 1, address: 127.0.0.1, port: 7001}
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory %s: %w", path, err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("directory %s lists no nodes", path)
	}
	return New(f.Nodes, f.Authority)
}

// Lookup returns the descriptor of node id.
func (d *Directory) Lookup(id int) (NodeDescriptor, error) {
	n, ok := d.nodes[id]
	if !ok {
		return NodeDescriptor{}, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

// Resolve returns the dialable address of node id.
func (d *Directory) Resolve(id int) (string, error) {
	n, err := d.Lookup(id)
	if err != nil {
		return "", err
	}
	return n.HostPort(), nil
}

// IDs returns every node id in ascending order.
func (d *Directory) IDs() []int {
	return append([]int(nil), d.ids...)
}

// Authority returns the authority endpoint if the directory names one.
func (d *Directory) Authority() (Endpoint, bool) {
	if d.authority == nil {
		return Endpoint{}, false
	}
	return *d.authority, true
}
