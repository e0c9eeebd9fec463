package telemetry_test

import (
	"context"
	"fmt"

	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Example_notifications shows subscribing to deposit lifecycle notifications.
func Example_notifications() {
	tel, err := telemetry.NewTelemetry(telemetry.TestConfig())
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(n telemetry.Notification) {
		fmt.Printf("%s %s\n", n.Type, n.DepositID)
	}, telemetry.FilterByLevel(telemetry.LevelWarning))

	_ = tel.Events.PublishDepositAccepted("dep-1", "alice")
	_ = tel.Events.PublishDepositCancelled("dep-1")
	_ = tel.Events.PublishDepositFailed("dep-2", 2, "checksum mismatch")

	// Output:
	// deposit.cancelled dep-1
	// deposit.failed dep-2
}

// Example_serviceInstrumentation shows wrapping a service call.
func Example_serviceInstrumentation() {
	tel, err := telemetry.NewTelemetry(telemetry.TestConfig())
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx, end := telemetry.WithDepositContext(ctx, "ingest", "dep-1")

	phaseCtx, endPhase := telemetry.WithPhaseContext(ctx, "dep-1", 1)
	err = telemetry.RecordServiceExecution(phaseCtx, "checksum", func(ctx context.Context) error {
		telemetry.FromContext(ctx).Debug("hashing files")
		return nil
	})
	endPhase("succeeded", err)
	end(err)

	fmt.Println(err == nil)
	// Output: true
}
