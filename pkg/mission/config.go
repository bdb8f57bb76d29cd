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

package mission

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
)

const (
	DefaultSensorInterval = 5 * time.Second
	DefaultInfoInterval   = 20 * time.Second
	DefaultLoadInterval   = 20 * time.Second
	DefaultLoadWindow     = time.Second
)

// Config holds the cadence of the canonical tasks.
type Config struct {
	SensorInterval time.Duration `validate:"gt=0"`
	InfoInterval   time.Duration `validate:"gt=0"`
	LoadInterval   time.Duration `validate:"gt=0"`
	// LoadWindow is spent inside every load tick and counts toward LoadInterval.
	LoadWindow time.Duration `validate:"gt=0,ltfield=LoadInterval"`
	// TickTimeout bounds a single sample. Zero disables it.
	TickTimeout time.Duration `validate:"gte=0"`
}

// DefaultConfig is sensor@5s, system-info@20s, load@20s with a 1s load window.
func DefaultConfig() Config {
	return Config{
		SensorInterval: DefaultSensorInterval,
		InfoInterval:   DefaultInfoInterval,
		LoadInterval:   DefaultLoadInterval,
		LoadWindow:     DefaultLoadWindow,
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	return validate.Struct(c)
}

// Sanitize replaces every invalid setting with its default and logs a warning.
// It never fails.
func (c Config) Sanitize() Config {
	err := c.Validate()
	if err == nil {
		return c
	}

	defaults := DefaultConfig()
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		log.Warn("invalid mission config: %v; using defaults", err)
		return defaults
	}

	for _, fe := range fieldErrs {
		switch fe.StructField() {
		case "SensorInterval":
			c.SensorInterval = defaults.SensorInterval
		case "InfoInterval":
			c.InfoInterval = defaults.InfoInterval
		case "LoadInterval":
			c.LoadInterval = defaults.LoadInterval
		case "LoadWindow":
			c.LoadWindow = defaults.LoadWindow
		case "TickTimeout":
			c.TickTimeout = defaults.TickTimeout
		}
		log.Warn("invalid %s %v (failed %s); falling back to default", fe.StructField(), fe.Value(), fe.Tag())
	}

	if c.LoadWindow >= c.LoadInterval {
		c.LoadWindow = c.LoadInterval / 2
		log.Warn("load window must be shorter than the load interval; using %s", c.LoadWindow)
	}
	return c
}
