// Package clock abstracts wall time and periodic tickers so polling loops can
// be driven by a manual clock in tests.
//
// Production code uses Real(). Tests use NewFake() and call Advance to fire
// tickers deterministically:
//
//	clk := clock.NewFake(time.Unix(0, 0))
//	rt := runtime.New(runtime.Params{Clock: clk, ...})
//	rt.Start(ctx)
//	clk.Advance(interval)
package clock
