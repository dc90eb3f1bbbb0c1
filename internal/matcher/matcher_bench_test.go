package matcher

import (
	"fmt"
	"math/rand/v2"
	"testing"
)

// BenchmarkBuild measures index construction over corpora of growing size.
func BenchmarkBuild(b *testing.B) {
	for _, size := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("sets_%d", size), func(b *testing.B) {
			corpus := randomCorpus(rand.New(rand.NewPCG(1, uint64(size))), size, 8, 200)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := BuildForest(Ordered[string](), corpus); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMatch measures per-transaction matching latency at several
// mismatch budgets over a 10 000 set corpus.
func BenchmarkMatch(b *testing.B) {
	r := rand.New(rand.NewPCG(9, 9))
	f, _, err := BuildForest(Ordered[string](), randomCorpus(r, 10000, 6, 100))
	if err != nil {
		b.Fatal(err)
	}
	txs := randomCorpus(r, 256, 30, 100)
	for _, allowed := range []int{0, 1, 2} {
		b.Run(fmt.Sprintf("allowed_%d", allowed), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = f.MatchAll(txs[i%len(txs)], allowed)
			}
		})
	}
}

// BenchmarkMatchParallel measures concurrent read throughput on one forest.
func BenchmarkMatchParallel(b *testing.B) {
	r := rand.New(rand.NewPCG(4, 2))
	f, _, err := BuildForest(Ordered[string](), randomCorpus(r, 10000, 6, 100))
	if err != nil {
		b.Fatal(err)
	}
	txs := randomCorpus(r, 256, 30, 100)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = f.MatchAll(txs[i%len(txs)], 1)
			i++
		}
	})
}
