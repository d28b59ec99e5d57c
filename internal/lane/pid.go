package lane

import "os"

// currentPID returns this process's PID, recorded into LaneState so a
// future resume can tell a genuinely stuck "running" lane (owner
// process dead) from one still legitimately in flight.
func currentPID() int {
	return os.Getpid()
}
