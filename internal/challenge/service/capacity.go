package service

// DefaultPendingCeiling is the system-wide limit on pending join requests
// per challenge.
const DefaultPendingCeiling = 20

// CanEnqueue reports whether another join request may enter the pending queue.
func CanEnqueue(pendingCount, ceiling int) bool {
	return pendingCount < ceiling
}

// CanAccept reports whether another participation may be accepted without
// overrunning the challenge capacity. Evaluated at join time and again at
// confirm time: two pending requests confirmed back to back must not jointly
// exceed capacity.
func CanAccept(acceptedCount, capacity int) bool {
	return acceptedCount < capacity
}
