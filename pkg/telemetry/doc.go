// Package telemetry provides observability instrumentation for the ingest service.
//
// It integrates structured logging (zerolog), distributed tracing (OpenTelemetry),
// metrics (Prometheus) and in-process deposit lifecycle notifications.
//
// # Usage
//
// Initialize telemetry at startup and carry it in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Every helper degrades to logging only when the context carries no telemetry, so
// library code can instrument unconditionally.
//
// # Deposits, phases and services
//
//	ctx, end := telemetry.WithDepositContext(ctx, "ingest", depositID)
//	defer func() { end(err) }()
//
//	phaseCtx, endPhase := telemetry.WithPhaseContext(ctx, depositID, 1)
//	err = telemetry.RecordServiceExecution(phaseCtx, "checksum", func(ctx context.Context) error {
//	    return svc.Execute(ctx, depositID, state)
//	})
//	endPhase("succeeded", err)
//
// # Metrics
//
// Metrics live on a private registry exposed through Metrics.Handler:
//
//   - dcsingest_deposits_started_total{user}
//   - dcsingest_deposits_completed_total{status}
//   - dcsingest_phase_duration_seconds{phase}
//   - dcsingest_service_calls_total{service}
//   - dcsingest_service_errors_total{service}
//   - dcsingest_events_recorded_total{type}
//   - dcsingest_deposit_cache_entries
//   - dcsingest_deposit_cache_evictions_total
//   - dcsingest_errors_by_class_total{class}
//
// # Notifications
//
// EventPublisher delivers Notification values (accepted, phase completed, paused,
// completed, failed, cancelled, evicted) to subscribers, optionally filtered with
// FilterByLevel, FilterByType or FilterByDepositID. Notifications are not the
// deposit audit trail; that lives in each deposit's event log.
package telemetry
