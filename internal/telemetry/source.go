package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrUnavailable is returned by a Source that has no sample to offer,
// e.g. because its device is gone.
var ErrUnavailable = errors.New("telemetry: sample unavailable")

// Source produces the latest sample of one telemetry stream. Sample may
// block; it is only called from a worker.
type Source interface {
	Sample(ctx context.Context) ([]byte, error)
}

type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Sample(ctx context.Context) ([]byte, error) { return f(ctx) }

// Unavailable is a Source that never has data.
var Unavailable Source = SourceFunc(func(context.Context) ([]byte, error) {
	return nil, ErrUnavailable
})

// NewSyntheticSource returns a generator by name: quaternion, gnss or
// battery. It returns nil for unknown names.
func NewSyntheticSource(name string, seed int64) Source {
	rng := rand.New(rand.NewSource(seed))
	switch name {
	case "quaternion":
		return &quaternionSource{rng: rng}
	case "gnss":
		return &gnssSource{rng: rng}
	case "battery":
		return &batterySource{rng: rng, level: 0.75}
	}
	return nil
}

// quaternionSource emits a near-identity attitude quaternion as four
// little endian float32 values (x, y, z, w).
type quaternionSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *quaternionSource) Sample(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const epsilon = 0.1
	q := [4]float32{
		float32(epsilon * (s.rng.Float64() - 0.5)),
		float32(epsilon * (s.rng.Float64() - 0.5)),
		float32(epsilon * (s.rng.Float64() - 0.5)),
		float32(1 + epsilon*(s.rng.Float64()-0.5)),
	}
	buf := make([]byte, 16)
	for i, v := range q {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

type gnssFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

type gnssSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *gnssSource) Sample(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fix := gnssFix{
		Latitude:  round(35.0+(s.rng.Float64()-0.5)*0.01, 6),
		Longitude: round(139.0+(s.rng.Float64()-0.5)*0.01, 6),
		Altitude:  round(50+(s.rng.Float64()-0.5)*10, 2),
		Speed:     round(s.rng.Float64()*10, 2),
		Heading:   round(s.rng.Float64()*360, 2),
	}
	return json.Marshal(fix)
}

// battery times use -1 for "never"
type batteryStatus struct {
	Charging        bool    `json:"charging"`
	Level           float64 `json:"level"`
	ChargingTime    float64 `json:"chargingTime"`
	DischargingTime float64 `json:"dischargingTime"`
}

type batterySource struct {
	mu       sync.Mutex
	rng      *rand.Rand
	level    float64
	charging bool
}

func (s *batterySource) Sample(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Intn(10) == 0 {
		s.charging = !s.charging
	}
	if s.charging {
		s.level = math.Min(1, s.level+0.01)
	} else {
		s.level = math.Max(0, s.level-0.005)
	}
	status := batteryStatus{Charging: s.charging, Level: round(s.level, 3), ChargingTime: -1, DischargingTime: -1}
	if s.charging {
		status.ChargingTime = math.Round((1 - s.level) * time.Hour.Seconds())
	} else {
		status.DischargingTime = math.Round(s.level * 2 * time.Hour.Seconds())
	}
	return json.Marshal(status)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
