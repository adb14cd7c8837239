// Copyright 2026 The OpenTrusty Authors
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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	return &Meter{
		meter: otel.Meter(serviceName),
	}, nil
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Instrument names
const (
	CacheLookups   = "subsites.cache.lookups"
	ReportDuration = "subsites.report.duration"
)

// Instruments are the metrics recorded by this service
type Instruments struct {
	CacheLookups   metric.Int64Counter
	ReportDuration metric.Float64Histogram
}

// NewInstruments creates every instrument on m
func NewInstruments(m *Meter) (*Instruments, error) {
	lookups, err := m.CreateCounter(CacheLookups, "Domain and permission cache lookups by result")
	if err != nil {
		return nil, err
	}
	duration, err := m.CreateHistogram(ReportDuration, "Tenant-aware report execution time", "ms")
	if err != nil {
		return nil, err
	}
	return &Instruments{CacheLookups: lookups, ReportDuration: duration}, nil
}
