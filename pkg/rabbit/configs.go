package rabbit

type Config struct {
	Connection Connection
	Channel    Channel
	Quarantine Quarantine
}

type Connection struct {
	Host           string
	Port           uint
	User           string
	Password       string
	IsSSLEnabled   bool
	UseCert        bool
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
	ServerName     string
}

// Channel describes the work queue. A companion "<QueueName>.delay" queue
// holds delayed messages until their per-message TTL expires, then
// dead-letters them back onto ExchangeName with RoutingKey.
type Channel struct {
	ExchangeName     string
	RoutingKey       string
	QueueName        string
	DelayToReconnect int // milliseconds between reconnect attempts
	PrefetchCount    int
	IsConsumer       bool
	ContentType      string
}

// Quarantine receives messages rejected without requeue, and messages the
// consumer moves there explicitly.
type Quarantine struct {
	ExchangeName string
	QueueName    string
	RoutingKey   string
}

// DelayQueueName is the queue holding delayed messages.
func (c Channel) DelayQueueName() string {
	return c.QueueName + ".delay"
}
