// Package otel exports authcore metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers asynchronous instruments and reads
// [authcore.Engine.MetricsSnapshot] once per collection. The caller owns
// the MeterProvider.
package otel
