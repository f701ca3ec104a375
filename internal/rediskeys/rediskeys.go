package rediskeys

import (
	"strconv"
	"time"
)

const (
	JobsKey         = "jobs"
	ScheduleKey     = "schedule"
	ReservationsKey = "reservations"
	JobRefsKey      = "job_refs"

	RefKeyPrefix         = "ref:"
	IdempotencyKeyPrefix = "idem:"
	MessageKeyPrefix     = "message:"

	// ReservedMarker is the placeholder stored for an id reserved before its job exists.
	ReservedMarker = "reserved"
)

const (
	MessageSnapshotTTL = 14 * 24 * time.Hour
	DedupeTTL          = 24 * time.Hour
)

func RefKey(ref string) string {
	return RefKeyPrefix + ref
}

func MessageKey(channel, message uint64) string {
	return MessageKeyPrefix + strconv.FormatUint(channel, 10) + ":" + strconv.FormatUint(message, 10)
}
