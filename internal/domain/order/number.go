package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Sequence hands out strictly increasing numbers.
type Sequence interface {
	NextSequence(ctx context.Context) (int64, error)
}

// NumberGenerator formats human readable order numbers such as
// "OO-2026-000042". Uniqueness comes from the sequence.
type NumberGenerator struct {
	prefix string
	seq    Sequence
	now    func() time.Time
}

// NewNumberGenerator creates a NumberGenerator.
func NewNumberGenerator(prefix string, seq Sequence) *NumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "OO"
	}
	return &NumberGenerator{prefix: prefix, seq: seq, now: time.Now}
}

// Next returns the next order number.
func (g *NumberGenerator) Next(ctx context.Context) (string, error) {
	n, err := g.seq.NextSequence(ctx)
	if err != nil {
		return "", errors.Wrap(err, "next order sequence")
	}
	return fmt.Sprintf("%s-%04d-%06d", g.prefix, g.now().UTC().Year(), n), nil
}
