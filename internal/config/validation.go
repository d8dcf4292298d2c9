package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// ValidateExtended performs extended validation beyond the basic checks in
// Validate: cross-field constraints and enumerated-value checks.
func (c *Config) ValidateExtended() error {
	var errors ValidationErrors

	if err := c.validateCluster(); err != nil {
		errors = append(errors, err.(ValidationErrors)...)
	}
	if err := c.validateSolver(); err != nil {
		errors = append(errors, err.(ValidationErrors)...)
	}
	if err := c.validateLogging(); err != nil {
		errors = append(errors, err.(ValidationErrors)...)
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateCluster() error {
	var errors ValidationErrors

	if c.Cluster.NumDevices%c.Cluster.NumDevicesPerNode != 0 {
		errors = append(errors, ValidationError{
			Field:   "cluster.num_devices",
			Value:   c.Cluster.NumDevices,
			Message: "must be a multiple of cluster.num_devices_per_node",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateSolver() error {
	var errors ValidationErrors

	if c.Solver.ILP.TimeLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "solver.ilp.time_limit",
			Value:   c.Solver.ILP.TimeLimit,
			Message: "must be positive",
		})
	}
	if c.Solver.Search.MaxOP <= 0 || c.Solver.Search.MaxPP <= 0 {
		errors = append(errors, ValidationError{
			Field:   "solver.search.max_op/max_pp",
			Value:   fmt.Sprintf("%d/%d", c.Solver.Search.MaxOP, c.Solver.Search.MaxPP),
			Message: "must both be positive",
		})
	}
	if c.Solver.Greedy.GroupSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "solver.greedy.group_size",
			Value:   c.Solver.Greedy.GroupSize,
			Message: "must be positive",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateLogging() error {
	var errors ValidationErrors

	if !isValidLevel(c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of debug, info, warn, error",
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: "must be json or console",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func isValidLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
