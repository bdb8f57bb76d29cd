// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sensor simulates the environmental sensors of the mars base.
package sensor

import (
	"math/rand/v2"
	"sync"
	"time"
)

// EnvironmentReading is one full sample of every base sensor.
type EnvironmentReading struct {
	InternalTemperature float64 `json:"mars_base_internal_temperature"`
	ExternalTemperature float64 `json:"mars_base_external_temperature"`
	InternalHumidity    float64 `json:"mars_base_internal_humidity"`
	ExternalIlluminance float64 `json:"mars_base_external_illuminance"`
	InternalCO2         float64 `json:"mars_base_internal_co2"`
	InternalOxygen      float64 `json:"mars_base_internal_oxygen"`
}

// Range is an inclusive generation interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var (
	InternalTemperatureRange = Range{Min: 18, Max: 30}
	ExternalTemperatureRange = Range{Min: 0, Max: 21}
	InternalHumidityRange    = Range{Min: 50, Max: 60}
	ExternalIlluminanceRange = Range{Min: 500, Max: 715}
	InternalCO2Range         = Range{Min: 0.02, Max: 0.1}
	InternalOxygenRange      = Range{Min: 4, Max: 7}
)

// Ranges returns the generation range of every field keyed by its record name.
func Ranges() map[string]Range {
	return map[string]Range{
		"mars_base_internal_temperature": InternalTemperatureRange,
		"mars_base_external_temperature": ExternalTemperatureRange,
		"mars_base_internal_humidity":    InternalHumidityRange,
		"mars_base_external_illuminance": ExternalIlluminanceRange,
		"mars_base_internal_co2":         InternalCO2Range,
		"mars_base_internal_oxygen":      InternalOxygenRange,
	}
}

// Fields returns the reading keyed by record field name.
func (r EnvironmentReading) Fields() map[string]float64 {
	return map[string]float64{
		"mars_base_internal_temperature": r.InternalTemperature,
		"mars_base_external_temperature": r.ExternalTemperature,
		"mars_base_internal_humidity":    r.InternalHumidity,
		"mars_base_external_illuminance": r.ExternalIlluminance,
		"mars_base_internal_co2":         r.InternalCO2,
		"mars_base_internal_oxygen":      r.InternalOxygen,
	}
}

// Source produces dummy readings. It is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Source)

// WithRand makes generation deterministic.
func WithRand(rnd *rand.Rand) Option {
	return func(s *Source) {
		s.rnd = rnd
	}
}

// New creates a sensor source.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		s.rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return s
}

// Sample draws every field independently and uniformly from its range.
func (s *Source) Sample() EnvironmentReading {
	s.mu.Lock()
	defer s.mu.Unlock()

	return EnvironmentReading{
		InternalTemperature: s.uniform(InternalTemperatureRange),
		ExternalTemperature: s.uniform(ExternalTemperatureRange),
		InternalHumidity:    s.uniform(InternalHumidityRange),
		ExternalIlluminance: s.uniform(ExternalIlluminanceRange),
		InternalCO2:         s.uniform(InternalCO2Range),
		InternalOxygen:      s.uniform(InternalOxygenRange),
	}
}

func (s *Source) uniform(r Range) float64 {
	return r.Min + s.rnd.Float64()*(r.Max-r.Min)
}
