package spec

type kafkaSink struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"`
}

type sinkConfigs struct {
	Kafka kafkaSink `yaml:"kafka"`
}

type debugSection struct {
	PrintCounter  bool `yaml:"print_counter"`
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
}

type RunnerSection struct {
	IntervalMS int `yaml:"interval_ms"` // pause between rounds
	MaxReplays int `yaml:"max_replays"` // replays per round before a partition is parked
}

type MetastoreSection struct {
	Kind   string `yaml:"kind"` // memory|redis
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // only "broker"
		Driver string `yaml:"driver"` // overrides the driver in the broker config
		Config string `yaml:"config"`
	} `yaml:"source"`

	Runner    RunnerSection    `yaml:"runner"`
	Metastore MetastoreSection `yaml:"metastore"`

	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Debug       debugSection `yaml:"debug"`
}
