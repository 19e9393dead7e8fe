package shared

import "fmt"

// StudentLockKey builds the lock key serialising writes to one student.
func StudentLockKey(studentID int64) string {
	return fmt.Sprintf("stipend:student:%d:lock", studentID)
}

// CycleLockKey builds the lock key guarding budget admission for a grant cycle.
func CycleLockKey(cycleID int64) string {
	return fmt.Sprintf("stipend:cycle:%d:lock", cycleID)
}
