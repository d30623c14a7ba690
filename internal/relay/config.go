package relay

import "time"

// Config tunes the fan-out engine. Zero values are replaced by defaults.
type Config struct {
	// QueueCapacity bounds each session's outbound queue.
	QueueCapacity int `env:"QUEUE_CAPACITY" envDefault:"256"`
	// HistorySize is the ring buffer length K used for join catch-up.
	HistorySize int `env:"HISTORY_SIZE" envDefault:"50"`
	// GracePeriod is how long an empty room survives before eviction.
	GracePeriod time.Duration `env:"GRACE_PERIOD" envDefault:"30s"`
	// EchoToSender delivers a sender's own messages back to it.
	EchoToSender bool `env:"ECHO_TO_SENDER" envDefault:"false"`
	// Shards is the number of dispatcher workers rooms are hashed onto.
	Shards int `env:"SHARDS" envDefault:"16"`
	// InboxSize bounds each shard's inbound event channel.
	InboxSize int `env:"INBOX_SIZE" envDefault:"1024"`
	// PingInterval is the keep-alive period of the delivery loop; zero disables pings.
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"54s"`
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 256,
		HistorySize:   50,
		GracePeriod:   30 * time.Second,
		Shards:        16,
		InboxSize:     1024,
		PingInterval:  54 * time.Second,
	}
}

// Sanitize fills invalid fields with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.HistorySize < 0 {
		c.HistorySize = def.HistorySize
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.Shards <= 0 {
		c.Shards = def.Shards
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	return c
}
