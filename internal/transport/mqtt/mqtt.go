// Package mqtt implements transport.Session over an MQTT broker.
//
// Published state and commands travel on <prefix>/<path>. MQTT has no native
// request/reply, so a query is a request published on <prefix>/<path>/_query
// carrying a reply_to topic unique to the query; responders publish their
// answer there. A query stream stays open for the configured query window.
package mqtt

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/transport"
)

const (
	querySuffix = "_query"
	replyPrefix = "_reply"

	DefaultQoS               = 1
	defaultQueryWindow       = 2 * time.Second
	defaultInitialRetryDelay = time.Second
	defaultMaxRetryDelay     = 30 * time.Second
	defaultDisconnectQuiesce = 250
)

// Config holds MQTT session configuration.
type Config struct {
	ServerURL         string
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string
	QoS               byte
	QueryWindow       time.Duration // How long a query waits for replies
	MaxRetries        int           // Maximum number of connection retries (0 = infinite)
	InitialRetryDelay time.Duration // Initial delay between retries
	MaxRetryDelay     time.Duration // Maximum delay between retries
	Logger            logrus.FieldLogger
}

type (
	// Session is a transport.Session backed by a paho MQTT client.
	Session struct {
		client paho.Client
		config Config
		id     string
		log    logrus.FieldLogger

		mu       sync.Mutex
		closed   bool
		handlers map[string]map[uint64]func([]byte)
		nextID   uint64
	}

	listener struct {
		session *Session
		topic   string
		id      uint64
		once    sync.Once
	}
)

var _ transport.Session = (*Session)(nil)

// BrokerAddress validates a mqtt:// server URL and returns the tcp:// form
// paho expects.
func BrokerAddress(serverURL string) (string, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}

	if parsedURL.Scheme != "mqtt" {
		return "", fmt.Errorf("%w: MQTT server URL must use mqtt:// scheme", ErrInvalidServerURL)
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidServerURL)
	}

	host := parsedURL.Host
	if parsedURL.Port() == "" {
		host = host + ":1883"
	}

	return "tcp://" + host, nil
}

// NewSession creates a session. It does not connect; call Connect.
func NewSession(config Config) (*Session, error) {
	broker, err := BrokerAddress(config.ServerURL)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if config.ClientID == "" {
		config.ClientID = "switchsync-" + id[:8]
	}
	if config.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, config.QoS)
	}
	if config.QueryWindow == 0 {
		config.QueryWindow = defaultQueryWindow
	}
	if config.InitialRetryDelay == 0 {
		config.InitialRetryDelay = defaultInitialRetryDelay
	}
	if config.MaxRetryDelay == 0 {
		config.MaxRetryDelay = defaultMaxRetryDelay
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Session{
		config:   config,
		id:       id,
		log:      logger.WithField("comp", "mqtt").WithField("client_id", config.ClientID),
		handlers: make(map[string]map[uint64]func([]byte)),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(config.MaxRetryDelay)
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		s.log.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		s.log.Infof("connected to MQTT broker at %s", config.ServerURL)
		s.resubscribe()
	})

	s.client = paho.NewClient(opts)
	return s, nil
}

// Connect connects to the broker, retrying with exponential backoff until it
// succeeds, MaxRetries is exhausted or ctx ends.
func (s *Session) Connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.InitialRetryDelay
	policy.MaxInterval = s.config.MaxRetryDelay
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if s.config.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.config.MaxRetries-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		token := s.client.Connect()
		if err := waitToken(ctx, token); err != nil {
			s.log.Warnf("failed to connect to MQTT broker (attempt %d): %v", attempt, err)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("%w: after %d attempts: %v", ErrConnect, attempt, err)
	}
	return nil
}

// ID implements transport.Session.
func (s *Session) ID() string {
	return s.id
}

// IsConnected returns true if the client is connected to the MQTT broker.
func (s *Session) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *Session) topic(path string) string {
	path = strings.Trim(path, "/")
	if s.config.TopicPrefix == "" {
		return path
	}
	return strings.TrimRight(s.config.TopicPrefix, "/") + "/" + path
}

func (s *Session) queryTopic(path string) string {
	return s.topic(path) + "/" + querySuffix
}

func (s *Session) replyTopic() string {
	return s.topic(fmt.Sprintf("%s/%s/%s", replyPrefix, s.id, uuid.NewString()))
}

func (s *Session) checkReady() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !s.IsConnected() {
		return transport.ErrNotConnected
	}
	return nil
}

func (s *Session) publishRaw(ctx context.Context, topic string, payload []byte) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	token := s.client.Publish(topic, s.config.QoS, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w to %s: %v", ErrPublish, topic, err)
	}
	return nil
}

// Publish implements transport.Session.
func (s *Session) Publish(ctx context.Context, path string, msg transport.Message) error {
	payload, err := transport.EncodeMessage(msg, "")
	if err != nil {
		return err
	}
	return s.publishRaw(ctx, s.topic(path), payload)
}

// Subscribe implements transport.Session.
func (s *Session) Subscribe(ctx context.Context, path string) (*transport.Subscription, error) {
	var l *listener
	sub := transport.NewSubscription(path, 0, func() {
		if l != nil {
			l.Close() //nolint:errcheck
		}
	})

	topic := s.topic(path)
	l, err := s.listen(ctx, topic, func(payload []byte) {
		msg, _, err := transport.DecodeMessage(payload)
		if err != nil {
			s.log.WithField("topic", topic).Warnf("treating undecodable message as off: %v", err)
		}
		sub.Deliver(msg)
	})
	if err != nil {
		sub.Close() //nolint:errcheck
		return nil, err
	}
	return sub, nil
}

// RegisterResponder implements transport.Session.
func (s *Session) RegisterResponder(ctx context.Context, path string, responder transport.Responder) (io.Closer, error) {
	topic := s.queryTopic(path)
	l, err := s.listen(ctx, topic, func(payload []byte) {
		_, replyTo, err := transport.DecodeMessage(payload)
		if err != nil || replyTo == "" {
			s.log.WithField("topic", topic).Warnf("ignoring query without reply topic")
			return
		}

		// Replies are sent from a separate goroutine so that the paho
		// router is never blocked waiting for a publish acknowledgement.
		go func() {
			replyCtx, cancel := context.WithTimeout(context.Background(), s.config.QueryWindow)
			defer cancel()

			msg, err := responder(replyCtx)
			if err != nil {
				s.log.WithField("topic", topic).Errorf("query responder failed: %v", err)
				return
			}
			reply, err := transport.EncodeMessage(msg, "")
			if err != nil {
				s.log.Errorf("failed to encode reply: %v", err)
				return
			}
			if err := s.publishRaw(replyCtx, replyTo, reply); err != nil {
				s.log.WithField("topic", replyTo).Errorf("failed to send reply: %v", err)
			}
		}()
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Query implements transport.Session. The reply stream ends after the query
// window or when ctx ends, whichever comes first.
func (s *Session) Query(ctx context.Context, path string) (<-chan transport.Message, error) {
	stream := newReplyStream()
	replyTo := s.replyTopic()

	l, err := s.listen(ctx, replyTo, func(payload []byte) {
		msg, _, err := transport.DecodeMessage(payload)
		if err != nil {
			s.log.WithField("topic", replyTo).Warnf("treating undecodable reply as off: %v", err)
		}
		stream.send(msg)
	})
	if err != nil {
		return nil, err
	}

	request, err := transport.EncodeMessage(transport.Message{Origin: s.id}, replyTo)
	if err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	if err := s.publishRaw(ctx, s.queryTopic(path), request); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}

	go func() {
		timer := time.NewTimer(s.config.QueryWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		l.Close() //nolint:errcheck
		stream.close()
	}()

	return stream.ch, nil
}

// Close disconnects from the broker and drops every listener.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handlers = make(map[string]map[uint64]func([]byte))
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(defaultDisconnectQuiesce)
		s.log.Infof("disconnected from MQTT broker")
	}
	return nil
}

// listen adds a handler for topic. Several handlers may share one topic; the
// broker subscription is made once per topic and fans out locally.
func (s *Session) listen(ctx context.Context, topic string, handler func([]byte)) (*listener, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	first := len(s.handlers[topic]) == 0
	if s.handlers[topic] == nil {
		s.handlers[topic] = make(map[uint64]func([]byte))
	}
	s.nextID++
	id := s.nextID
	s.handlers[topic][id] = handler
	s.mu.Unlock()

	l := &listener{session: s, topic: topic, id: id}

	if first {
		token := s.client.Subscribe(topic, s.config.QoS, s.dispatch)
		if err := waitToken(ctx, token); err != nil {
			l.Close() //nolint:errcheck
			return nil, fmt.Errorf("%w %s: %v", ErrSubscribe, topic, err)
		}
		s.log.WithField("topic", topic).Debugf("subscribed")
	}
	return l, nil
}

func (s *Session) dispatch(client paho.Client, msg paho.Message) {
	s.mu.Lock()
	handlers := make([]func([]byte), 0, len(s.handlers[msg.Topic()]))
	for _, h := range s.handlers[msg.Topic()] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(msg.Payload())
	}
}

func (s *Session) resubscribe() {
	s.mu.Lock()
	topics := make([]string, 0, len(s.handlers))
	for topic, handlers := range s.handlers {
		if len(handlers) > 0 {
			topics = append(topics, topic)
		}
	}
	s.mu.Unlock()

	for _, topic := range topics {
		token := s.client.Subscribe(topic, s.config.QoS, s.dispatch)
		if token.Wait() && token.Error() != nil {
			s.log.WithField("topic", topic).Errorf("failed to restore subscription: %v", token.Error())
		}
	}
}

// Close removes the handler, unsubscribing from the broker when it was the
// last one for its topic.
func (l *listener) Close() error {
	l.once.Do(func() {
		s := l.session
		s.mu.Lock()
		delete(s.handlers[l.topic], l.id)
		last := len(s.handlers[l.topic]) == 0
		if last {
			delete(s.handlers, l.topic)
		}
		closed := s.closed
		s.mu.Unlock()

		if last && !closed && s.IsConnected() {
			token := s.client.Unsubscribe(l.topic)
			if token.WaitTimeout(s.config.QueryWindow) && token.Error() != nil {
				s.log.WithField("topic", l.topic).Warnf("failed to unsubscribe: %v", token.Error())
			}
		}
	})
	return nil
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
