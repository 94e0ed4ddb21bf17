package gaze

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTSource subscribes to a topic carrying one sample per message.
type MQTTSource struct {
	Broker   string
	Topic    string
	ClientID string
	Logger   logrus.FieldLogger
}

var _ Source = (*MQTTSource)(nil)

func NewMQTTSource(broker, topic, clientID string) *MQTTSource {
	return &MQTTSource{
		Broker:   broker,
		Topic:    topic,
		ClientID: clientID,
		Logger:   logrus.WithField("component", "gaze.mqtt"),
	}
}

// Run connects, subscribes and blocks until ctx is done.
func (s *MQTTSource) Run(ctx context.Context, out chan Sample) error {
	log := s.Logger.WithFields(logrus.Fields{"broker": s.Broker, "topic": s.Topic})

	opts := mqtt.NewClientOptions().
		AddBroker(s.Broker).
		SetClientID(s.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	// Subscribe from the connect handler so the subscription survives
	// reconnects.
	handler := s.messageHandler(out, log)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.Topic, 0, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).Error("subscribe failed")
			return
		}
		log.Info("subscribed to gaze topic")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("connection to broker lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to %s: %w", s.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil
	}

	<-ctx.Done()
	client.Unsubscribe(s.Topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	return nil
}

func (s *MQTTSource) messageHandler(out chan Sample, log logrus.FieldLogger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		sample, err := ParseSample(msg.Payload())
		if err != nil {
			log.WithError(err).Debug("ignoring message")
			return
		}
		if Offer(out, sample) {
			log.Debug("consumer behind, dropped stale sample")
		}
	}
}
