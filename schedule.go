package stupidmeter

// Tick arithmetic for the three suite cadences. All computation is plain
// unix-second math in a single host timezone expressed as a whole-hour
// offset from UTC, so next-tick times are trivially testable.

// NextIntervalTick returns the next unix timestamp aligned to an
// every-N-minutes boundary within the hour (N=20 → :00/:20/:40). A
// timestamp exactly on a boundary schedules the following boundary.
func NextIntervalTick(nowUnix int64, everyMinutes int) int64 {
	period := int64(everyMinutes) * 60
	return (nowUnix/period + 1) * period
}

// NextDailyTick returns the next unix timestamp for a daily HH:MM trigger.
// hour/minute are in the host's local timezone; tzOffset is the offset
// from UTC in whole hours. The returned timestamp is UTC.
func NextDailyTick(nowUnix int64, hour, minute, tzOffset int) int64 {
	offsetSecs := int64(tzOffset) * 3600
	localNow := nowUnix + offsetSecs
	localDays := localNow / 86400
	localTimeOfDay := localNow % 86400
	targetTimeOfDay := int64(hour)*3600 + int64(minute)*60

	targetDay := localDays
	if localTimeOfDay >= targetTimeOfDay {
		targetDay++
	}
	localTS := targetDay*86400 + targetTimeOfDay
	return localTS - offsetSecs
}
