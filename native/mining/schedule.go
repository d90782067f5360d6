package mining

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sagemarket/native/common"
)

// defaultStepsBps is the fixed five-step issuance schedule: 100%, 75%, 50%,
// 37.5% and 25% of the base reward. The final step applies to every later
// period. The breakpoints are exact; nothing interpolates between steps.
var defaultStepsBps = []uint32{10_000, 7_500, 5_000, 3_750, 2_500}

// Schedule maps elapsed time since the issuance start onto the per-job base
// reward for that period.
type Schedule struct {
	steps []uint32
}

// DefaultSchedule returns the built-in five-step schedule.
func DefaultSchedule() *Schedule {
	return &Schedule{steps: append([]uint32(nil), defaultStepsBps...)}
}

type fileSchedule struct {
	StepsBps []uint32 `json:"stepsBps" toml:"stepsBps"`
}

// LoadSchedule reads an operator-supplied schedule override from a TOML or
// JSON file. The file lists the per-period reward share in basis points; the
// last entry applies forever.
func LoadSchedule(path string) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("mining: schedule path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mining: read schedule: %w", err)
	}
	var parsed fileSchedule
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("mining: decode schedule json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("mining: decode schedule toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("mining: unknown schedule fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("mining: unsupported schedule format %q", ext)
	}
	return NewSchedule(parsed.StepsBps)
}

// NewSchedule validates and wraps an explicit step table.
func NewSchedule(stepsBps []uint32) (*Schedule, error) {
	if len(stepsBps) == 0 {
		return nil, errors.New("mining: schedule requires at least one step")
	}
	for i, step := range stepsBps {
		if step > common.BpsDenominator {
			return nil, fmt.Errorf("mining: schedule step %d exceeds %d bps", i, common.BpsDenominator)
		}
	}
	return &Schedule{steps: append([]uint32(nil), stepsBps...)}, nil
}

// StepBps returns the reward share for a period index, clamping past the end
// of the table.
func (s *Schedule) StepBps(period uint64) uint32 {
	steps := s.steps
	if len(steps) == 0 {
		steps = defaultStepsBps
	}
	if period >= uint64(len(steps)) {
		return steps[len(steps)-1]
	}
	return steps[period]
}

// RewardAt computes the halvened base reward at the given timestamp.
func (s *Schedule) RewardAt(cfg Config, now uint64) *big.Int {
	if cfg.BaseReward == nil || cfg.BaseReward.Sign() <= 0 || cfg.HalveningPeriodSecs == 0 {
		return big.NewInt(0)
	}
	var period uint64
	if now > cfg.StartTimestamp {
		period = (now - cfg.StartTimestamp) / cfg.HalveningPeriodSecs
	}
	return common.PercentOf(cfg.BaseReward, s.StepBps(period))
}
