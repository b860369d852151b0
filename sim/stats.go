package sim

import (
	"math"
	"sort"
)

// TimeWeightedStat accumulates a piecewise-constant quantity (queue length,
// units in use) weighted by the time it holds each value.
type TimeWeightedStat struct {
	start     float64
	lastTime  float64
	lastValue float64
	sum       float64 // integral of value dt
	sumSq     float64 // integral of value^2 dt
	min, max  float64
	hist      map[int]float64 // time spent at each integer level
	trackHist bool
}

// NewTimeWeightedStat creates a stat starting at time now with value 0.
// When histogram is true the time spent at each integer level is recorded.
func NewTimeWeightedStat(now float64, histogram bool) *TimeWeightedStat {
	s := &TimeWeightedStat{trackHist: histogram}
	s.Reset(now)
	return s
}

// Reset discards accumulated history but keeps the current value.
func (s *TimeWeightedStat) Reset(now float64) {
	s.start = now
	s.lastTime = now
	s.sum = 0
	s.sumSq = 0
	s.min = s.lastValue
	s.max = s.lastValue
	if s.trackHist {
		s.hist = make(map[int]float64)
	}
}

func (s *TimeWeightedStat) advance(now float64) {
	dt := now - s.lastTime
	if dt <= 0 {
		return
	}
	s.sum += s.lastValue * dt
	s.sumSq += s.lastValue * s.lastValue * dt
	if s.trackHist {
		s.hist[int(s.lastValue)] += dt
	}
	s.lastTime = now
}

// Update records that the quantity changed to value at time now.
func (s *TimeWeightedStat) Update(now, value float64) {
	s.advance(now)
	s.lastValue = value
	s.min = math.Min(s.min, value)
	s.max = math.Max(s.max, value)
}

// Current returns the latest value.
func (s *TimeWeightedStat) Current() float64 {
	return s.lastValue
}

// Min returns the smallest value observed since the last reset.
func (s *TimeWeightedStat) Min() float64 {
	return s.min
}

// Max returns the largest value observed since the last reset.
func (s *TimeWeightedStat) Max() float64 {
	return s.max
}

// Mean returns the time-weighted mean up to now.
func (s *TimeWeightedStat) Mean(now float64) float64 {
	s.advance(now)
	span := s.lastTime - s.start
	if span <= 0 {
		return s.lastValue
	}
	return s.sum / span
}

// StdDev returns the time-weighted standard deviation up to now.
func (s *TimeWeightedStat) StdDev(now float64) float64 {
	mean := s.Mean(now)
	span := s.lastTime - s.start
	if span <= 0 {
		return 0
	}
	v := s.sumSq/span - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Histogram returns the time spent at each integer level up to now, sorted
// by level. Nil when the stat was created without a histogram.
func (s *TimeWeightedStat) Histogram(now float64) []LevelTime {
	if !s.trackHist {
		return nil
	}
	s.advance(now)
	out := make([]LevelTime, 0, len(s.hist))
	for level, t := range s.hist {
		out = append(out, LevelTime{Level: level, Time: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// LevelTime is one histogram bin of a TimeWeightedStat.
type LevelTime struct {
	Level int
	Time  float64
}

// SampleStat accumulates independent observations (e.g. waiting times).
type SampleStat struct {
	count      int64
	sum, sumSq float64
	min, max   float64
}

// Add records one observation.
func (s *SampleStat) Add(x float64) {
	if s.count == 0 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	s.count++
	s.sum += x
	s.sumSq += x * x
}

// Reset discards every observation.
func (s *SampleStat) Reset() {
	*s = SampleStat{}
}

func (s *SampleStat) Count() int64 { return s.count }
func (s *SampleStat) Min() float64 { return s.min }
func (s *SampleStat) Max() float64 { return s.max }

// Mean returns the average observation, 0 when empty.
func (s *SampleStat) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// StdDev returns the population standard deviation, 0 when empty.
func (s *SampleStat) StdDev() float64 {
	if s.count == 0 {
		return 0
	}
	mean := s.Mean()
	v := s.sumSq/float64(s.count) - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// ThroughputCounters counts entities received and processed by a station,
// split into the initialization period and the period after it.
type ThroughputCounters struct {
	InitReceived  int64 // received before the statistics were cleared
	InitProcessed int64 // processed before the statistics were cleared
	Received      int64
	Processed     int64
}

// AddReceived counts n arriving entities.
func (c *ThroughputCounters) AddReceived(n int64) {
	c.Received += n
}

// AddProcessed counts n finished entities.
func (c *ThroughputCounters) AddProcessed(n int64) {
	c.Processed += n
}

// InProgress returns the entities received but not yet processed, across
// both periods.
func (c ThroughputCounters) InProgress() int64 {
	return c.InitReceived + c.Received - c.InitProcessed - c.Processed
}

// ClearStatistics moves the running counts into the initialization bucket.
func (c *ThroughputCounters) ClearStatistics(_ float64) {
	c.InitReceived += c.Received
	c.InitProcessed += c.Processed
	c.Received = 0
	c.Processed = 0
}
