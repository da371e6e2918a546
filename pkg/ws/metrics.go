package ws

// Metrics 监控接口
type Metrics interface {
	IncrementConnections(namespace string)
	DecrementConnections(namespace string)
	IncrementMessages(namespace, event string)
	IncrementRejectedMessages(namespace string)
	IncrementInvalidMessages(namespace string)
	IncrementDroppedMessages(n int)
	IncrementRevokedConnections(namespace string)
}

// NoopMetrics 默认实现
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections(string)        {}
func (NoopMetrics) DecrementConnections(string)        {}
func (NoopMetrics) IncrementMessages(string, string)   {}
func (NoopMetrics) IncrementRejectedMessages(string)   {}
func (NoopMetrics) IncrementInvalidMessages(string)    {}
func (NoopMetrics) IncrementDroppedMessages(int)       {}
func (NoopMetrics) IncrementRevokedConnections(string) {}
