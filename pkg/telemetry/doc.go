// Package telemetry provides observability instrumentation for rulekit:
// structured logging (zerolog), tracing (OpenTelemetry), and Prometheus
// metrics for rule evaluation.
//
// Metrics implements engine.Observer, so wiring the engine is one line:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	e := engine.NewEngine(engine.Config{
//	    Logger:   tel.Logger.Zerolog(),
//	    Observer: tel.Metrics,
//	    Tracer:   tel.Tracer.Tracer(),
//	})
package telemetry
