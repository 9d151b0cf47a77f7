package bench

import "github.com/interleave-sct/interleave/sct/ident"

func init() {
	register(Benchmark{
		Name:        "AccountBad",
		Concurrency: 4,
		EntryPoint:  `Benchmarks\.AccountBad RunTest`,
		WeakPoints:  []string{`Benchmarks\.DataLock Wait`},
		Run:         runAccountBad,
	})
}

// runAccountBad checks the final balance with the wrong sign for the withdrawal:
// the check fails whenever it runs after both the deposit and the withdrawal.
func runAccountBad(h Hooks) error {
	const x, y, z = 1, 2, 4
	var (
		runTest   = ident.NewFunc("Benchmarks.AccountBad", "RunTest")
		check     = ident.NewFunc("Benchmarks.AccountBad", "Check")
		deposit   = ident.NewFunc("Benchmarks.AccountBad", "Deposit", "Int32")
		withdraw  = ident.NewFunc("Benchmarks.AccountBad", "Withdraw", "Int32")
		dataLock  = newLock(h, "Benchmarks.DataLock")
		balance   = x
		deposited bool
		withdrawn bool
	)

	h.Enter(runTest)
	defer h.Leave(runTest)

	w := &workers{h: h}
	w.run(check, func() error {
		dataLock.Wait()
		defer dataLock.Release()
		if deposited && withdrawn {
			return expect(balance == x-y-z, "balance after deposit and withdrawal")
		}
		return nil
	})
	w.run(deposit, func() error {
		dataLock.Wait()
		balance += y
		deposited = true
		dataLock.Release()
		return nil
	})
	w.run(withdraw, func() error {
		dataLock.Wait()
		balance -= z
		withdrawn = true
		dataLock.Release()
		return nil
	})
	return w.wait()
}
