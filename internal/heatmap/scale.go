// Package heatmap turns fleet utilization batches into renderable heatmap
// frames and owns the polling lifecycle that keeps them fresh.
package heatmap

import (
	"fmt"
	"math"
)

// Band is the heat band a cell falls into.
type Band string

const (
	BandGreen Band = "green"
	BandAmber Band = "amber"
	BandRed   Band = "red"
)

// Band thresholds and per-band alpha ramps. Each band maps its value range
// onto [floor, 1.0] so low values stay visible and saturated values cap out.
const (
	amberThreshold = 50.0
	redThreshold   = 80.0

	greenAlphaFloor = 0.2
	amberAlphaFloor = 0.6
	redAlphaFloor   = 0.8
)

// RGB components used when a CellColor is rendered as a CSS rgba() string.
var bandRGB = map[Band]string{
	BandGreen: "34, 197, 94",
	BandAmber: "245, 158, 11",
	BandRed:   "239, 68, 68",
}

// CellColor is a heat band plus its computed opacity.
type CellColor struct {
	Band  Band    `json:"band"`
	Alpha float64 `json:"alpha"`
}

// RGBA renders the color as a CSS rgba() value for web sinks.
func (c CellColor) RGBA() string {
	return fmt.Sprintf("rgba(%s, %.2f)", bandRGB[c.Band], c.Alpha)
}

// ColorFor maps a 0-100 utilization value onto the three-band heat scale.
// Values below 0 are treated as 0; values above 100 saturate the red band.
func ColorFor(v float64) CellColor {
	if v < 0 {
		v = 0
	}
	switch {
	case v < amberThreshold:
		frac := math.Min(1, v/amberThreshold)
		return CellColor{Band: BandGreen, Alpha: greenAlphaFloor + frac*0.8}
	case v < redThreshold:
		frac := math.Min(1, (v-amberThreshold)/(redThreshold-amberThreshold))
		return CellColor{Band: BandAmber, Alpha: amberAlphaFloor + frac*0.4}
	default:
		frac := math.Min(1, (v-redThreshold)/(100-redThreshold))
		return CellColor{Band: BandRed, Alpha: math.Min(1.0, redAlphaFloor+frac*0.2)}
	}
}

// MemoryPercent converts used/total VRAM into a percentage. A non-positive
// total yields 0 rather than dividing by zero.
func MemoryPercent(used, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return used / total * 100
}

// queueDisplayMax is the queue depth rendered as 100%; deeper queues clamp.
const queueDisplayMax = 10

// QueuePercent normalizes a queue depth against the assumed display maximum.
func QueuePercent(depth int) float64 {
	if depth < 0 {
		depth = 0
	}
	return math.Min(100, float64(depth)/queueDisplayMax*100)
}
