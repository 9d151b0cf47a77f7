package bench

import "github.com/interleave-sct/interleave/sct/ident"

func init() {
	register(Benchmark{
		Name:        "Lazy01Bad",
		Concurrency: 4,
		EntryPoint:  `Benchmarks\.Lazy01Bad RunTest`,
		WeakPoints:  []string{`Benchmarks\.DataLock Wait`},
		Run:         runLazy01Bad,
	})
}

// runLazy01Bad expects the last writer to have run before the reader.
func runLazy01Bad(h Hooks) error {
	var (
		runTest  = ident.NewFunc("Benchmarks.Lazy01Bad", "RunTest")
		addOne   = ident.NewFunc("Benchmarks.Lazy01Bad", "AddOne")
		addTwo   = ident.NewFunc("Benchmarks.Lazy01Bad", "AddTwo")
		check    = ident.NewFunc("Benchmarks.Lazy01Bad", "Check")
		dataLock = newLock(h, "Benchmarks.DataLock")
		data     int
	)

	h.Enter(runTest)
	defer h.Leave(runTest)

	w := &workers{h: h}
	w.run(addOne, func() error {
		dataLock.Wait()
		data++
		dataLock.Release()
		return nil
	})
	w.run(addTwo, func() error {
		dataLock.Wait()
		data += 2
		dataLock.Release()
		return nil
	})
	w.run(check, func() error {
		dataLock.Wait()
		defer dataLock.Release()
		return expect(data == 3, "data after both writers")
	})
	return w.wait()
}
