package timer

import (
	"fmt"
	"time"
)

// RecomputeSchedule returns a six-field cron expression that fires daily at
// the UTC wall-clock time of eventUnix plus the given buffers. The expression
// carries CRON_TZ=UTC so it fires at the same instant whatever location the
// timer service evaluates schedules in.
//
// Seconds overflow into minutes and minutes into hours (base 60); the hour
// wraps past midnight. Negative buffers borrow the same way.
func RecomputeSchedule(eventUnix int64, secondsBuffer, minutesBuffer int) string {
	t := time.Unix(eventUnix, 0).UTC()
	second := t.Second() + secondsBuffer
	minute := t.Minute() + minutesBuffer
	hour := t.Hour()

	minute += floorDiv(second, 60)
	second = floorMod(second, 60)
	hour += floorDiv(minute, 60)
	minute = floorMod(minute, 60)
	hour = floorMod(hour, 24)

	return fmt.Sprintf("CRON_TZ=UTC %d %d %d * * *", second, minute, hour)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
