// Package idgen generates time-ordered int64 identifiers for rows the service
// inserts, so the same INSERT works on every supported SQL driver.
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out unique, increasing ids for one machine.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for the given machine id (0-1023).
func New(machineID int64) (*Generator, error) {
	node, err := snowflake.NewNode(machineID)
	if err != nil {
		return nil, fmt.Errorf("idgen: machine id %d: %w", machineID, err)
	}
	return &Generator{node: node}, nil
}

// NextID returns the next id.
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}

// MachineOf returns the machine id encoded in id.
func MachineOf(id int64) int64 {
	return snowflake.ParseInt64(id).Node()
}

var (
	mu               sync.RWMutex
	defaultGenerator *Generator
)

// Init sets the machine id of the process-wide generator.
func Init(machineID int64) error {
	g, err := New(machineID)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultGenerator = g
	mu.Unlock()
	return nil
}

// NextID returns an id from the process-wide generator. Machine 0 is used
// until Init is called.
func NextID() int64 {
	mu.RLock()
	g := defaultGenerator
	mu.RUnlock()
	if g == nil {
		mu.Lock()
		if defaultGenerator == nil {
			defaultGenerator, _ = New(0)
		}
		g = defaultGenerator
		mu.Unlock()
	}
	return g.NextID()
}
