package bandwidth_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/cmn"
)

var _ = Describe("Limiter", func() {
	It("imposes no delay when unlimited", func() {
		l := bandwidth.NewLimiter(0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		start := time.Now()
		Expect(l.Acquire(ctx, 10*cmn.MiB)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
	})

	It("reports the configured limit", func() {
		l := bandwidth.NewLimiter(1024)
		Expect(l.LimitBps()).To(Equal(int64(1024)))
	})

	It("reports zero when unlimited", func() {
		l := bandwidth.NewLimiter(0)
		Expect(l.LimitBps()).To(Equal(int64(0)))
	})

	It("paces aggregate throughput to roughly the configured cap", func() {
		const bps = 64 * cmn.KiB
		l := bandwidth.NewLimiter(bps)
		ctx := context.Background()

		start := time.Now()
		total := 0
		for total < 2*bps {
			Expect(l.Acquire(ctx, cmn.ChunkSize)).To(Succeed())
			total += cmn.ChunkSize
		}
		elapsed := time.Since(start)

		// Two seconds of data at the configured rate should take at least
		// ~1.6s (20% below nominal) to rule out an effectively-unlimited bug.
		Expect(elapsed).To(BeNumerically(">=", 1600*time.Millisecond))
	})

	It("reacts to SetLimitBps without restarting the limiter", func() {
		l := bandwidth.NewLimiter(1024)
		l.SetLimitBps(4096)
		Expect(l.LimitBps()).To(Equal(int64(4096)))
	})

	It("is cancellation-responsive", func() {
		l := bandwidth.NewLimiter(1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := l.Acquire(ctx, cmn.ChunkSize)
		Expect(err).To(MatchError(context.Canceled))
	})
})
