package shared

import "fmt"

// AccrualSweepKey builds the redis key marking that the accrual sweep ran for
// a calendar date (YYYY-MM-DD).
func AccrualSweepKey(date string) string {
	return fmt.Sprintf("rentdesk:accrual:%s:swept", date)
}
