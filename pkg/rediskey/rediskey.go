package rediskey

import (
	"fmt"
	"time"
)

const ReminderPrefix = "loyalty:reminder"

// BuildReminderMarkerKey returns "loyalty:reminder:{customerID}:{days}:{yyyymmdd}".
// The marker dedups expiry reminders per customer, threshold and day.
func BuildReminderMarkerKey(customerID string, daysBefore int, day time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%s", ReminderPrefix, customerID, daysBefore, day.Format("20060102"))
}
