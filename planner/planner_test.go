package planner_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/planner"
)

var _ = Describe("ShouldPlanMultipart", func() {
	It("rejects content exactly one byte under the threshold", func() {
		yes := true
		Expect(planner.ShouldPlanMultipart(cmn.MultipartThreshold-1, &yes)).To(BeFalse())
	})

	It("accepts content exactly at the threshold when ranges are supported", func() {
		yes := true
		Expect(planner.ShouldPlanMultipart(cmn.MultipartThreshold, &yes)).To(BeTrue())
	})

	It("rejects when range support is unknown", func() {
		Expect(planner.ShouldPlanMultipart(256*cmn.MiB, nil)).To(BeFalse())
	})

	It("rejects when range support is known false", func() {
		no := false
		Expect(planner.ShouldPlanMultipart(256*cmn.MiB, &no)).To(BeFalse())
	})
})

var _ = Describe("BaseSegmentCount", func() {
	It("clamps small files to the floor of 2", func() {
		Expect(planner.BaseSegmentCount(1 * cmn.MiB)).To(Equal(2))
	})

	It("computes ceil(len/16MiB) in the middle of the range", func() {
		Expect(planner.BaseSegmentCount(5 * cmn.SegmentSize)).To(Equal(5))
	})

	It("clamps huge files to the ceiling of 16", func() {
		Expect(planner.BaseSegmentCount(100 * cmn.SegmentSize)).To(Equal(16))
	})
})

var _ = Describe("EffectiveSegmentCount", func() {
	It("uses the base count when warmup failed or measured zero", func() {
		Expect(planner.EffectiveSegmentCount(5, 0)).To(Equal(5))
	})

	It("caps at 16 for very fast warmup", func() {
		Expect(planner.EffectiveSegmentCount(3, 25*cmn.MiB)).To(Equal(8))
		Expect(planner.EffectiveSegmentCount(20, 25*cmn.MiB)).To(Equal(16))
	})

	It("caps at 12 for fast warmup", func() {
		Expect(planner.EffectiveSegmentCount(3, 10*cmn.MiB)).To(Equal(6))
		Expect(planner.EffectiveSegmentCount(16, 10*cmn.MiB)).To(Equal(12))
	})

	It("caps at 8 for moderate warmup", func() {
		Expect(planner.EffectiveSegmentCount(2, 4*cmn.MiB)).To(Equal(4))
		Expect(planner.EffectiveSegmentCount(16, 4*cmn.MiB)).To(Equal(8))
	})

	It("shrinks toward 4 for slow warmup", func() {
		Expect(planner.EffectiveSegmentCount(10, 1*cmn.MiB)).To(Equal(4))
	})
})

var _ = Describe("PlanRanges", func() {
	It("produces disjoint contiguous ranges covering the whole length", func() {
		const length = int64(5 * cmn.SegmentSize)
		ranges := planner.PlanRanges(length, 5)
		Expect(ranges).To(HaveLen(5))
		Expect(ranges[0].Start).To(Equal(int64(0)))
		for i := 1; i < len(ranges); i++ {
			Expect(ranges[i].Start).To(Equal(ranges[i-1].End + 1))
		}
		Expect(ranges[len(ranges)-1].End).To(Equal(length - 1))
	})

	It("truncates the last range to content length when not evenly divisible", func() {
		const length = int64(2*cmn.SegmentSize + 1000)
		ranges := planner.PlanRanges(length, 3)
		Expect(ranges[len(ranges)-1].End).To(Equal(length - 1))
	})
})
