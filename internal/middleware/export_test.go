package middleware

func (l *MemoryLimiter) TrackedClients() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.clients)
}
