package ledger

import (
	"evledger/entity"
	"fmt"
	"time"
)

// InactivityRule defines when a gap between two readings counts as idle time
type InactivityRule struct {
	// IdleGap is the shortest gap that can count as inactivity
	IdleGap time.Duration
	// Threshold is the energy delta in Wh below which a gap is considered not charging
	Threshold int64
}

// Inactivity sums every gap between consecutive readings that is longer than IdleGap
// and delivered no energy or less than Threshold
func Inactivity(readings []entity.MeterReading, rule InactivityRule) time.Duration {
	var total time.Duration
	for i := 1; i < len(readings); i++ {
		prev, cur := readings[i-1], readings[i]
		gap := cur.Time.Sub(prev.Time)
		if gap <= rule.IdleGap {
			continue
		}
		delta := cur.Energy - prev.Energy
		if delta == 0 || delta < rule.Threshold {
			total += gap
		}
	}
	return total
}

// ComputeStopRecord derives the totals of a session from its readings plus the final reading.
// The result depends only on its arguments.
func ComputeStopRecord(start time.Time, readings []entity.MeterReading, final entity.MeterReading, stopTime time.Time, rule InactivityRule) (*entity.StopRecord, error) {
	sequence := readings
	if n := len(readings); n > 0 {
		last := readings[n-1]
		if final.Energy < last.Energy {
			return nil, fmt.Errorf("%w: final %d Wh below last reading %d Wh", ErrNonMonotonicEnergy, final.Energy, last.Energy)
		}
		if final.Time.Before(last.Time) {
			return nil, fmt.Errorf("%w: final reading at %s precedes last reading at %s", ErrNonMonotonicEnergy,
				final.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		}
		if !last.Equal(final) {
			sequence = make([]entity.MeterReading, 0, n+1)
			sequence = append(sequence, readings...)
			sequence = append(sequence, final)
		}
	} else {
		sequence = []entity.MeterReading{final}
	}

	duration := stopTime.Sub(start)
	if duration < 0 {
		duration = 0
	}
	inactivity := Inactivity(sequence, rule)
	if inactivity > duration {
		inactivity = duration
	}
	return &entity.StopRecord{
		Time:         stopTime,
		Consumption:  final.Energy - sequence[0].Energy,
		Duration:     duration,
		Inactivity:   inactivity,
		FinalReading: final,
	}, nil
}
