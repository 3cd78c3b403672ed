package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"txspout/sink"
	"txspout/spout"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
}

// producer is the part of sarama.SyncProducer the sink uses.
type producer interface {
	SendMessage(*sarama.ProducerMessage) (int32, int64, error)
	Close() error
}

type driver struct {
	cfg Config
	p   producer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if cfg.Topic == "" || len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	var err error
	d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc)
	return err
}

// Push publishes the payload synchronously so a failed send surfaces to the
// runner, which then replays the transaction.
func (d *driver) Push(r spout.Record) error {
	_, _, err := d.p.SendMessage(message(d.cfg.Topic, r))
	if err != nil {
		return fmt.Errorf("kafka-sink: send tx %s: %w", r.Tx, err)
	}
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	return d.p.Close()
}

func message(topic string, r spout.Record) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(r.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("tx"), Value: []byte(r.Tx.String())},
		},
	}
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
