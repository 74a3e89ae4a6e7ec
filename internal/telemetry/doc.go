// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// Telemetry never fails the process: when an exporter cannot be created
// the instance reports itself degraded and callers fall back to the
// global no-op providers.
//
// The orchestration loop opens one span per iteration
// ("orchestrator.iteration") and the verification driver one per stage
// ("verify.stage"); see Tracer.
package telemetry
