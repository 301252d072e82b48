// Package stream reads the ordered block stream produced by the upstream codec.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

var ErrOutOfOrder = errors.New("block out of order")

const maxLine = 64 << 20

// Source yields blocks in chain order and io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (models.Block, error)
}

// JSONLines decodes one block per line. Heights must strictly increase.
type JSONLines struct {
	scanner *bufio.Scanner
	line    int
	last    *uint64
}

func NewJSONLines(r io.Reader) *JSONLines {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	return &JSONLines{scanner: scanner}
}

func (s *JSONLines) Next(ctx context.Context) (models.Block, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.Block{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return models.Block{}, errors.Wrapf(err, "read line %d", s.line+1)
			}
			return models.Block{}, io.EOF
		}
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var block models.Block
		if err := json.Unmarshal(line, &block); err != nil {
			return models.Block{}, errors.Wrapf(err, "decode line %d", s.line)
		}
		if s.last != nil && block.Height <= *s.last {
			return models.Block{}, errors.Wrapf(ErrOutOfOrder, "height %d after %d", block.Height, *s.last)
		}
		height := block.Height
		s.last = &height
		return block, nil
	}
}
