package examples

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var seriesHeader = []string{
	"timestamp", "close", "ready", "level", "velocity",
	"measurement_noise", "process_noise_level", "process_noise_velocity", "signal",
}

// WriteSeriesCSV writes the recorded estimates of symbol, one row per bar.
// Not-ready rows carry empty estimate fields.
func (s *AdaptiveKalmanStrategy) WriteSeriesCSV(w io.Writer, symbol string) error {
	inst, ok := s.instruments[symbol]
	if !ok {
		return fmt.Errorf("no series for symbol %s", symbol)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(seriesHeader); err != nil {
		return err
	}

	for _, point := range inst.series {
		est := point.Estimate
		row := []string{
			point.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(point.Close),
			strconv.FormatBool(est.Ready),
			"", "", "", "", "",
			est.Signal().String(),
		}
		if est.Ready {
			row[3] = formatFloat(est.Level)
			row[4] = formatFloat(est.Velocity)
			row[5] = formatFloat(est.MeasurementNoise)
			row[6] = formatFloat(est.ProcessNoiseLevel)
			row[7] = formatFloat(est.ProcessNoiseVelocity)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
