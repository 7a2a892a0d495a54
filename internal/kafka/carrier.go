package kafka

import segkafka "github.com/segmentio/kafka-go"

// HeaderCarrier exposes Kafka message headers as an OpenTelemetry
// propagation.TextMapCarrier so trace context rides along with each
// lifecycle event.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) Get(key string) string {
	for i := range c {
		if c[i].Key == key {
			return string(c[i].Value)
		}
	}
	return ""
}

// Set stores key/value. An existing header with the same key is
// overwritten in place so repeated injection stays idempotent.
func (c *HeaderCarrier) Set(key, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for i := range c {
		keys = append(keys, c[i].Key)
	}
	return keys
}
