// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
)

func init() {
	Register("cdev", newCdevBackend)
}

// cdevBackend drives lines through the Linux GPIO character device
// (/dev/gpiochipN). On boards with several chips the same BCM line number
// may only exist on one of them, so a claim walks the chips in priority
// order until one accepts the line.
type cdevBackend struct {
	chips []string

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

func newCdevBackend(opts Options) (Backend, error) {
	chips := gpiocdev.Chips()
	if len(chips) == 0 {
		return nil, errors.NewBackendError("cdev", -1, fmt.Errorf("no /dev/gpiochip* devices present"))
	}

	ordered := orderChips(chips, opts.ChipPriority)
	logger.Debug().Strs("chips", ordered).Msg("cdev backend initialized")

	return &cdevBackend{chips: ordered}, nil
}

// orderChips applies the configured chip priority, appending any chips
// not listed in their device order.
func orderChips(chips []string, priority []int) []string {
	if len(priority) == 0 {
		return chips
	}

	byNum := make(map[int]string, len(chips))
	for _, chip := range chips {
		numStr := strings.TrimPrefix(chip, "gpiochip")
		if num, err := strconv.Atoi(numStr); err == nil {
			byNum[num] = chip
		}
	}

	ordered := make([]string, 0, len(chips))
	seen := make(map[string]struct{}, len(chips))
	for _, num := range priority {
		if chip, ok := byNum[num]; ok {
			ordered = append(ordered, chip)
			seen[chip] = struct{}{}
		}
	}
	for _, chip := range chips {
		if _, ok := seen[chip]; !ok {
			ordered = append(ordered, chip)
		}
	}
	return ordered
}

func (b *cdevBackend) Name() string { return "cdev" }

func (b *cdevBackend) ClaimLine(req LineRequest, fn EdgeFunc) (Line, error) {
	handler := func(evt gpiocdev.LineEvent) {
		// The kernel timestamp is monotonic-since-boot; the counter only
		// needs inter-edge spacing, so wall time is fine here.
		fn(time.Now())
	}

	var lastErr error
	for _, chip := range b.chips {
		line, err := b.requestOnChip(chip, req, handler)
		if err != nil {
			logger.Debug().Err(err).Str("chip", chip).Int("line", req.Line).
				Msg("cdev claim failed on chip")
			lastErr = err
			continue
		}

		b.mu.Lock()
		b.lines = append(b.lines, line)
		b.mu.Unlock()

		logger.Info().Str("chip", chip).Int("line", req.Line).
			Str("edge", req.Edge.String()).Str("pull", req.Pull.String()).
			Msg("Pulse line claimed via cdev")
		return &cdevLine{line: line}, nil
	}

	return nil, errors.NewBackendError("cdev", req.Line, lastErr)
}

// requestOnChip claims the line on one chip. Kernel-side debounce needs
// 5.10+; when the kernel rejects it the claim is retried without, since
// the pulse counter debounces in software anyway.
func (b *cdevBackend) requestOnChip(chip string, req LineRequest, handler func(gpiocdev.LineEvent)) (*gpiocdev.Line, error) {
	base := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(req.Consumer),
		gpiocdev.WithEventHandler(handler),
	}

	switch req.Edge {
	case Rising:
		base = append(base, gpiocdev.WithRisingEdge)
	default:
		base = append(base, gpiocdev.WithFallingEdge)
	}

	switch req.Pull {
	case PullDown:
		base = append(base, gpiocdev.WithPullDown)
	case PullNone:
		base = append(base, gpiocdev.WithBiasDisabled)
	default:
		base = append(base, gpiocdev.WithPullUp)
	}

	if req.Debounce > 0 {
		withDebounce := append(append([]gpiocdev.LineReqOption(nil), base...),
			gpiocdev.WithDebounce(req.Debounce))
		line, err := gpiocdev.RequestLine(chip, req.Line, withDebounce...)
		if err == nil {
			return line, nil
		}
		logger.Debug().Err(err).Str("chip", chip).Int("line", req.Line).
			Msg("Kernel debounce unsupported, retrying without")
	}

	return gpiocdev.RequestLine(chip, req.Line, base...)
}

func (b *cdevBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range b.lines {
		if err := line.Close(); err != nil {
			logger.Debug().Err(err).Msg("cdev line close failed")
		}
	}
	b.lines = nil
	return nil
}

type cdevLine struct {
	line *gpiocdev.Line
	once sync.Once
}

func (l *cdevLine) Release() error {
	var err error
	l.once.Do(func() {
		err = l.line.Close()
	})
	return err
}
