package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultIDPrefix starts every job id.
const DefaultIDPrefix = "model_"

// IDGenerator mints job identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator mints time-ordered ids. UUIDv7 puts a millisecond timestamp
// in the leading bits and a per-process counter after it, so ids sort by
// creation time and do not collide under concurrent submission.
type UUIDv7Generator struct {
	Prefix string
}

func (g UUIDv7Generator) Generate() string {
	return g.Prefix + uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator mints prefix-0001, prefix-0002, ... and is meant for tests.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n)
}
