// Package planner decides single-stream vs multipart transfer and, for
// multipart, the segment count and byte ranges, per §4.E. The 1 MiB
// warmup probe uses a disposable fasthttp.Client rather than a pooled
// net/http client: it's a single throwaway ranged GET off the hot path of
// per-host connection reuse that transport.Policy's client cache serves.
package planner

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/zdmr/zdmr/cmn"
)

// Range is one planned, contiguous, inclusive byte range.
type Range struct {
	Start, End int64
}

// ShouldPlanMultipart reports whether a resource of contentLength with
// the given range-support tri-state qualifies for multipart transfer.
// supportsRanges is collapsed to a boolean here per the spec's own
// observation that the planner's eligibility check is the one call site
// that needs one (SPEC_FULL §9(c)); store and job keep the *bool tri-state.
func ShouldPlanMultipart(contentLength int64, supportsRanges *bool) bool {
	supports := supportsRanges != nil && *supportsRanges
	return supports && contentLength >= cmn.MultipartThreshold
}

// BaseSegmentCount is ceil(len/16MiB) clamped to [2, 16].
func BaseSegmentCount(contentLength int64) int {
	n := int((contentLength + cmn.SegmentSize - 1) / cmn.SegmentSize)
	if n < 2 {
		n = 2
	}
	if n > 16 {
		n = 16
	}
	return n
}

// EffectiveSegmentCount applies the five-bucket warmup-throughput table
// from §4.E to the base count.
func EffectiveSegmentCount(base int, warmupBytesPerSec float64) int {
	switch {
	case warmupBytesPerSec <= 0:
		return base
	case warmupBytesPerSec >= 20*cmn.MiB:
		return clamp(max(base, 8), 16)
	case warmupBytesPerSec >= 8*cmn.MiB:
		return clamp(max(base, 6), 12)
	case warmupBytesPerSec >= 3*cmn.MiB:
		return clamp(max(base, 4), 8)
	default:
		return min(base, 4)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(n, cap int) int {
	if n > cap {
		return cap
	}
	return n
}

// PlanRanges splits [0, contentLength-1] into up to count contiguous
// ranges of cmn.SegmentSize bytes. The last range always ends at
// contentLength-1, so it absorbs any remainder beyond count segments;
// fewer than count ranges are returned when the file ends earlier.
func PlanRanges(contentLength int64, count int) []Range {
	ranges := make([]Range, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * cmn.SegmentSize
		end := start + cmn.SegmentSize - 1
		if end > contentLength-1 || i == count-1 {
			end = contentLength - 1
		}
		if start > end {
			break
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}

// Plan performs the warmup probe (when warmupURL is reachable) and
// returns the final set of ranges to assign one per segment worker.
func Plan(warmupURL string, contentLength int64, extraHeaders map[string]string) ([]Range, error) {
	base := BaseSegmentCount(contentLength)
	throughput, err := warmupProbe(warmupURL, extraHeaders)
	if err != nil {
		// warmup failed: fall back to the base count per §4.E's table.
		return PlanRanges(contentLength, base), nil
	}
	count := EffectiveSegmentCount(base, throughput)
	return PlanRanges(contentLength, count), nil
}

// warmupProbe issues a single ranged GET for the first cmn.WarmupSize
// bytes and returns the measured throughput in bytes/sec. A non-partial
// response or transport error is reported as a failed warmup, which the
// caller treats as "use the base count."
func warmupProbe(rawURL string, extraHeaders map[string]string) (float64, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", cmn.WarmupSize-1))
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	client := &fasthttp.Client{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	start := time.Now()
	if err := client.DoTimeout(req, resp, 15*time.Second); err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	if resp.StatusCode() != fasthttp.StatusPartialContent {
		return 0, fmt.Errorf("planner: warmup expected 206, got %d", resp.StatusCode())
	}
	n := len(resp.Body())
	if n == 0 || elapsed <= 0 {
		return 0, fmt.Errorf("planner: warmup produced no measurable throughput")
	}
	return float64(n) / elapsed.Seconds(), nil
}
