// Package runtime is the generic dispatch core every agent runs on.
//
// # Overview
//
// A Runtime binds one input topic and one output topic to a Handler. While
// started it polls the input topic on a fixed interval, decodes each new
// message and hands it to the Handler in ascending sequence order.
//
//	rt := runtime.New(runtime.Params{
//	    Name:         "risk",
//	    Transport:    log,
//	    InputTopic:   "prices",
//	    OutputTopic:  "alerts",
//	    PollInterval: time.Second,
//	    Handler:      agent,
//	})
//	rt.Start(ctx)
//	defer rt.Stop()
//
// # Poll cycle
//
//  1. ReadSince(input, cursor)
//  2. Decode each message; payloads that fail decoding are logged and dropped
//  3. HandleMessage for each decoded event; handler errors are logged and do
//     not stop the batch
//  4. Advance the cursor to the highest sequence seen in the batch
//  5. Call Tick if the handler implements Ticker
//
// Step 4 runs even when events were dropped, so a malformed message can never
// stall the consumer. A failed read aborts the cycle with the cursor
// unchanged and the next tick retries it.
//
// A runtime without an input topic is emit-only: each tick just calls Tick.
// The price feed runs this way.
//
// # Lifecycle
//
// Start and Stop are idempotent. Stop waits for an in-flight cycle to finish
// and guarantees no cycle starts after it returns. Stop must not be called
// from inside a handler.
//
// # Checkpoints
//
// Cursors live in memory by default. Supplying a CheckpointStore loads the
// cursor on Start and saves it after every cycle that advances it.
package runtime
