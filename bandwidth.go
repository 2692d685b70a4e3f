package camrelay

import "time"

// A BandwidthSample is the number of bytes transmitted during one wall
// clock second.
type BandwidthSample struct {
	Bucket time.Time
	Bytes  int64
}

// A BandwidthMeter accumulates bytes transmitted into per-second buckets,
// keeping a bounded history for a moving average alongside overall totals.
// It is owned by the relay loop and is not safe for concurrent use.
type BandwidthMeter struct {
	window  int
	samples []BandwidthSample
	total   int64
	first   time.Time
}

// NewBandwidthMeter returns a meter retaining at most window per-second
// samples, evicting oldest first. A non-positive window gets the default.
func NewBandwidthMeter(window int) *BandwidthMeter {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	return &BandwidthMeter{window: window}
}

// Add records n bytes transmitted at now.
func (bm *BandwidthMeter) Add(n int, now time.Time) {
	if bm.first.IsZero() {
		bm.first = now
	}
	bm.total += int64(n)
	bucket := now.Truncate(time.Second)
	if len(bm.samples) == 0 || !bm.samples[len(bm.samples)-1].Bucket.Equal(bucket) {
		bm.samples = append(bm.samples, BandwidthSample{Bucket: bucket})
		if len(bm.samples) > bm.window {
			bm.samples = bm.samples[1:]
		}
	}
	bm.samples[len(bm.samples)-1].Bytes += int64(n)
}

// Instant returns the bytes per second of the most recent sample.
func (bm *BandwidthMeter) Instant() float64 {
	if len(bm.samples) == 0 {
		return 0
	}
	return float64(bm.samples[len(bm.samples)-1].Bytes)
}

// Moving returns the average bytes per second across retained samples.
func (bm *BandwidthMeter) Moving() float64 {
	if len(bm.samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range bm.samples {
		sum += s.Bytes
	}
	return float64(sum) / float64(len(bm.samples))
}

// Average returns the overall bytes per second since the first sample.
func (bm *BandwidthMeter) Average(now time.Time) float64 {
	if bm.first.IsZero() {
		return 0
	}
	elapsed := now.Sub(bm.first).Seconds()
	if elapsed <= 0 {
		return float64(bm.total)
	}
	return float64(bm.total) / elapsed
}

// Total returns the total bytes recorded.
func (bm *BandwidthMeter) Total() int64 {
	return bm.total
}

// Samples returns a copy of the retained history, oldest first.
func (bm *BandwidthMeter) Samples() []BandwidthSample {
	out := make([]BandwidthSample, len(bm.samples))
	copy(out, bm.samples)
	return out
}
