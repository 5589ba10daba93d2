// SPDX-License-Identifier: MIT
package stats

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"omx/internal/omx"
)

// Summary condenses the turnaround samples of one port: how long buffers
// stayed with the component before coming back.
type Summary struct {
	Port      uint32        `json:"port"`
	Direction string        `json:"direction"`
	Sent      uint64        `json:"sent"`
	Returned  uint64        `json:"returned"`
	Bytes     uint64        `json:"bytes"`
	Held      int           `json:"held"`
	Samples   int           `json:"samples"`
	Mean      time.Duration `json:"mean"`
	StdDev    time.Duration `json:"std_dev"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	Max       time.Duration `json:"max"`
}

// Summarize computes a Summary from a port snapshot.
func Summarize(s omx.PortStats) Summary {
	sum := Summary{
		Port:      s.Port,
		Direction: s.Direction.String(),
		Sent:      s.Sent,
		Returned:  s.Returned,
		Bytes:     s.Bytes,
		Held:      s.Held,
		Samples:   len(s.Turnaround),
	}
	if len(s.Turnaround) == 0 {
		return sum
	}

	x := make([]float64, len(s.Turnaround))
	for i, d := range s.Turnaround {
		x[i] = float64(d)
	}
	slices.Sort(x)

	mean, std := stat.MeanStdDev(x, nil)
	sum.Mean = time.Duration(mean)
	if len(x) > 1 {
		sum.StdDev = time.Duration(std)
	}
	sum.P50 = time.Duration(stat.Quantile(0.5, stat.Empirical, x, nil))
	sum.P95 = time.Duration(stat.Quantile(0.95, stat.Empirical, x, nil))
	sum.Max = time.Duration(x[len(x)-1])
	return sum
}

// SummarizeCore summarizes every port of c in creation order.
func SummarizeCore(c *omx.Core) []Summary {
	ports := c.Ports()
	out := make([]Summary, 0, len(ports))
	for _, p := range ports {
		out = append(out, Summarize(p.Stats()))
	}
	return out
}

func (s Summary) String() string {
	return fmt.Sprintf("port %d (%s): sent=%d returned=%d held=%d bytes=%d turnaround mean=%v sd=%v p50=%v p95=%v max=%v",
		s.Port, s.Direction, s.Sent, s.Returned, s.Held, s.Bytes, s.Mean, s.StdDev, s.P50, s.P95, s.Max)
}
