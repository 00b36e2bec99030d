package faceq

import "fmt"

// Config sizes the queues and selects failure reporting.
type Config struct {
	// RequestCapacity is the number of requests that may wait for the worker.
	RequestCapacity int

	// ResultCapacity is the number of completed results that may wait for a caller.
	ResultCapacity int

	// ReportFailures makes the worker produce a Result with Err set when an
	// operation fails. By default failed operations are dropped.
	ReportFailures bool
}

// DefaultConfig returns the queue sizes used by the CLI.
func DefaultConfig() Config {
	return Config{
		RequestCapacity: 10,
		ResultCapacity:  10,
	}
}

// Validate checks the capacities.
func (c Config) Validate() error {
	if c.RequestCapacity < 1 {
		return fmt.Errorf("request capacity must be >= 1, got %d", c.RequestCapacity)
	}
	if c.ResultCapacity < 1 {
		return fmt.Errorf("result capacity must be >= 1, got %d", c.ResultCapacity)
	}
	return nil
}
