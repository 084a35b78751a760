/*
Package log provides structured logging for wrenchsim using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level.

# Architecture

The logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("jobmanager")               │          │
	│  │  - WithHostID("host-0")                      │          │
	│  │  - WithServiceID("multicore-0")              │          │
	│  │  - WithJobID("job-def456")                   │          │
	│  │  - WithSimTime(sim.Now())                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "jobmanager",               │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "job submitted"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF job submitted     │          │
	│  │    component=jobmanager                     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all wrenchsim packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithHostID: Add host ID context
  - WithServiceID: Add compute/storage service ID context
  - WithJobID: Add job ID context
  - WithSimTime: Add the current simulated time

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Checking host resources: cores=4, ram=8GB"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Standard job submitted: job-17"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Scheduler re-placed an already-started job"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to deliver file-copy event to workflow manager"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to load platform description: %v"

# Usage

Initializing the Logger:

	import "github.com/wrenchsim/wrenchsim/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/wrenchsim.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("Simulation launched")
	log.Debug("Checking host status")
	log.Warn("High queueing delay detected")
	log.Error("Failed to start compute service")
	log.Fatal("Cannot start without a platform description") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("service_id", "multicore-0").
		Int("cores", 4).
		Msg("Compute service started")

	log.Logger.Error().
		Err(err).
		Str("host_id", "host-0").
		Msg("Host resource query failed")

Component Loggers:

	// Create component-specific logger
	jmLog := log.WithComponent("jobmanager")
	jmLog.Info().Msg("Starting job manager loop")
	jmLog.Debug().Str("job_id", "job-123").Msg("Submitting job")

	// Multiple context fields
	jobLog := log.WithComponent("batch").
		With().Str("host_id", "host-0").
		Str("job_id", "job-123").Logger()
	jobLog.Info().Msg("Placing batch job")
	jobLog.Error().Err(err).Msg("Placement failed")

Context Logger Helpers:

	// Host-specific logs
	hostLog := log.WithHostID("host-0")
	hostLog.Info().Msg("Host registered with simulation")

	// Service-specific logs
	svcLog := log.WithServiceID("multicore-0")
	svcLog.Info().Msg("Compute service capacity changed")

	// Job-specific logs
	jobLog := log.WithJobID("job-def456")
	jobLog.Info().Msg("Job started")

	// Simulated-time-stamped logs, for lines emitted outside an actor's
	// own message loop where no simclock.Clock is already in scope
	simLog := log.WithSimTime(42.5)
	simLog.Info().Msg("Checkpoint reached")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/wrenchsim/wrenchsim/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("wrenchsim starting")

		// Component-specific logging
		jmLog := log.WithComponent("jobmanager")
		jmLog.Info().
			Str("host_id", "host-1").
			Int("job_count", 5).
			Msg("Submitting jobs")

		// Error logging
		err := errors.New("not enough idle cores")
		log.Logger.Error().
			Err(err).
			Str("component", "compute").
			Msg("Failed to place job")

		log.Info("wrenchsim stopped")
	}

# Integration Points

This package integrates with:

  - pkg/simulation: Logs simulation lifecycle and shutdown
  - pkg/jobmanager: Logs job submission, placement, and completion
  - pkg/batch: Logs scheduler decisions and queueing
  - pkg/compute: Logs compute service capacity changes
  - pkg/datamovement: Logs file-copy outcomes
  - cmd/wrenchsim: Logs CLI lifecycle and signal handling

# Log Output Examples

JSON Format:

	{"level":"info","component":"simulation","time":"2026-07-30T10:30:00Z","message":"Simulation launched"}
	{"level":"info","component":"jobmanager","job_id":"job-123","time":"2026-07-30T10:30:01Z","message":"Job submitted"}
	{"level":"error","component":"batch","host_id":"host-0","time":"2026-07-30T10:30:02Z","message":"Placement failed","error":"not enough idle cores"}

Console Format:

	2026-07-30T10:30:00Z INF Simulation launched component=simulation
	2026-07-30T10:30:01Z INF Job submitted component=jobmanager job_id=job-123
	2026-07-30T10:30:02Z ERR Placement failed component=batch host_id=host-0 error="not enough idle cores"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (host ID, service ID, job ID, simulated time)

Don't:
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
