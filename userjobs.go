package metergate

import "sync"

// UserJobs caps concurrent Generate calls per user. A limit of 0 disables it.
type UserJobs struct {
	mu      sync.Mutex
	limit   int
	running map[string]int
}

// NewUserJobs creates a limiter allowing limit concurrent jobs per user.
func NewUserJobs(limit int) *UserJobs {
	return &UserJobs{limit: limit, running: make(map[string]int)}
}

// Acquire claims a job slot for userID. The returned release must be called
// exactly once when ok is true.
func (u *UserJobs) Acquire(userID string) (release func(), ok bool) {
	if u == nil || u.limit <= 0 {
		return func() {}, true
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running[userID] >= u.limit {
		return nil, false
	}
	u.running[userID]++

	var once sync.Once
	return func() {
		once.Do(func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.running[userID] <= 1 {
				delete(u.running, userID)
				return
			}
			u.running[userID]--
		})
	}, true
}

// Running returns the number of jobs held by userID.
func (u *UserJobs) Running(userID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running[userID]
}
