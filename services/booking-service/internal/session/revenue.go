package session

import "time"

// Revenue computes the expert's earnings for a completed call, in cents.
//
// Calls at or under the minimum revenue length earn nothing. A call that fit
// inside its scheduled window earns exactly the pre-quoted price; a call that
// ran over additionally earns the per-extension price for every extension
// quantum granted.
func Revenue(callSeconds, scheduledMinutes, extendedSeconds int, estimatedCents, perExtensionCents int64, cfg Config) int64 {
	if time.Duration(callSeconds)*time.Second <= cfg.MinRevenueLength {
		return 0
	}
	if callSeconds <= scheduledMinutes*60 {
		return estimatedCents
	}
	quantum := int(cfg.ExtensionQuantum.Seconds())
	if quantum <= 0 {
		return estimatedCents
	}
	return estimatedCents + int64(extendedSeconds/quantum)*perExtensionCents
}

// FixExtendedDuration reconciles the extension credit a user requested with
// the extension time actually consumed. A user who bought one more quantum
// but hung up before using it gets that quantum refunded from the credit.
func FixExtendedDuration(extendedSeconds, callSeconds, scheduledMinutes int, quantum time.Duration) int {
	actualExtended := callSeconds - scheduledMinutes*60
	difference := extendedSeconds - actualExtended
	if difference > int(quantum.Seconds()) {
		extendedSeconds -= int(quantum.Seconds())
	}
	return extendedSeconds
}
