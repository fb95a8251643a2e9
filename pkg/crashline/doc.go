// Package crashline is an in-process error reporting client.
//
// crashline captures handled errors and recovered panics, enriches them with
// breadcrumbs, feature flags, request metadata and session counters, and
// delivers them to a remote collector without ever failing the host
// application.
//
// # Core Components
//
//   - Client: orchestrates filtering, middleware, encoding and delivery
//   - Event: one reported error with its causal chain and metadata tabs
//   - MiddlewareStack: named onion of callbacks that observe, mutate or cancel events
//   - Sanitizer: redacts filtered keys and bounds strings before encoding
//   - Delivery: destination for encoded payloads (HTTP by default; see deliveries/)
//
// # Context Isolation
//
// Breadcrumbs, feature flags, request metadata and the active session live in a
// scope carried by context.Context. A context without a scope uses the
// client's root scope. Fork state explicitly at the start of a new unit of
// work:
//
//	ctx = client.CopyForContext(ctx) // inherits a copy of the parent's state
//	ctx = client.NewContext(ctx)     // starts empty
//
// # Quick Start
//
//	client := crashline.New(crashline.WithLogger(logger))
//	client.Configure(map[string]any{
//	    "api_key":       os.Getenv("CRASHLINE_API_KEY"),
//	    "release_stage": "production",
//	})
//	defer client.Close(context.Background())
//
//	if err := doWork(ctx); err != nil {
//	    client.Notify(ctx, err, crashline.WithMetadata("job", map[string]any{"id": id}))
//	}
//
// Panics are reported by deferring Recover (swallows) or AutoNotify (re-panics):
//
//	defer client.Recover(ctx)
//
// # Design Principles
//
//   - Reporting never fails the application: middleware, encoding and delivery faults are logged
//   - At most one delivery attempt per event, no retry
//   - No implicit global hooks: register clients with Install and defer HandlePanic
package crashline
