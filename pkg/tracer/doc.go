// Package tracer sets up OpenTelemetry tracing and carries trace context
// across the job queue.
//
// The producer stores GetCarrier(ctx) inside the job payload; the worker
// calls SetCarrierOnContext with it so the processing span joins the trace
// that submitted the job.
package tracer
