package pipeline

import (
	"fmt"
	"time"

	"txspout/internal/config"
	"txspout/internal/metastore"
	"txspout/sink"
	sinkkafka "txspout/sink/kafka"
	"txspout/sink/stdout"
	"txspout/source/broker"
	"txspout/spout"
)

// Compile turns a pipeline YAML into a ready, not yet started, Runner.
func Compile(path string) (*Runner, error) {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	if cfg.Source.Kind != "broker" {
		return nil, fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	bc, err := config.LoadBrokerConfig(confPath, cfg.Source.Driver)
	if err != nil {
		return nil, err
	}

	client, err := broker.NewClient(bc)
	if err != nil {
		return nil, err
	}
	sp, err := spout.New(spout.ConfigFrom(bc), client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	ms, err := metastore.New(metastore.Config{
		Kind:   cfg.Metastore.Kind,
		Addr:   cfg.Metastore.Addr,
		Prefix: cfg.Metastore.Prefix,
	})
	if err != nil {
		_ = sp.Close()
		return nil, err
	}

	r := NewRunner(sp, ms, time.Duration(cfg.Runner.IntervalMS)*time.Millisecond, cfg.Runner.MaxReplays)
	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			_ = r.Close()
			return nil, err
		}

		switch name {
		case "stdout":
			err = sDrv.Configure(stdout.Config{
				PrintCounter:  cfg.Debug.PrintCounter,
				PrintValue:    cfg.Debug.PrintValue,
				ValueMaxBytes: cfg.Debug.ValueMaxBytes,
			})
		case "kafka":
			k := cfg.SinkConfigs.Kafka
			err = sDrv.Configure(sinkkafka.Config{Brokers: k.Brokers, Topic: k.Topic, Acks: k.RequiredAcks})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(name, sDrv)
	}
	return r, nil
}
