// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kafkasink is an example Sink whose Service publishes through
// a github.com/IBM/sarama AsyncProducer: messages are
// submitted to Input(), acknowledgements arrive asynchronously on
// Successes()/Errors() and are correlated back to the waiting caller by
// a per-message token, and a breaker.Breaker fails fast once the
// producer has shown enough consecutive errors.
package kafkasink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eapache/go-resiliency/breaker"

	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/driver"
	"github.com/flowcore/pipeline/finalization"
)

// Spec configures a kafkasink instance.
type Spec struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// Encode turns one event's routing namespace into a message key and
	// value. When nil, the key is nil and the value is the namespace.
	Encode func(namespace string) (key, value []byte)
	// BreakerErrorThreshold is the number of consecutive Call failures
	// the breaker tolerates before opening (go-resiliency/breaker's
	// errorThreshold). Defaults to 3, matching async_producer.go's
	// per-connection breaker.
	BreakerErrorThreshold int `mapstructure:"breaker_error_threshold"`
	// Telemetry receives per-call outcomes. Defaults to driver.NopTelemetry.
	Telemetry driver.Telemetry `mapstructure:"-"`
}

func (s *Spec) setDefaults() {
	if s.BreakerErrorThreshold <= 0 {
		s.BreakerErrorThreshold = 3
	}
	if s.Encode == nil {
		s.Encode = func(namespace string) ([]byte, []byte) { return nil, []byte(namespace) }
	}
}

// Builder constructs kafkasink component instances.
var Builder component.BuilderFunc = build

func build(_ context.Context, name string, spec any, deps component.Deps) (component.Handle, error) {
	s, ok := spec.(*Spec)
	if !ok {
		return component.Handle{}, fmt.Errorf("kafkasink: unexpected spec type %T", spec)
	}
	if deps.Input == nil {
		return component.Handle{}, fmt.Errorf("kafkasink %q: needs an input wired", name)
	}
	s.setDefaults()

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(s.Brokers, cfg)
	if err != nil {
		return component.Handle{}, fmt.Errorf("kafkasink %q: new producer: %w", name, err)
	}

	telemetry := s.Telemetry
	if telemetry == nil {
		telemetry = driver.NopTelemetry{}
	}

	svc := newService(producer, s.Topic, s.BreakerErrorThreshold)
	sk := &sink{name: name, spec: *s, deps: deps, svc: svc, telemetry: telemetry}

	return component.Handle{
		Run:         sk.run,
		Healthcheck: sk.healthcheck,
	}, nil
}

// request implements driver.Request for one Kafka message.
type request struct {
	key, value []byte
	finalizer  *finalization.EventFinalizer
	eventCount int
}

func (r *request) Finalizer() *finalization.EventFinalizer { return r.finalizer }
func (r *request) EventCount() int                         { return r.eventCount }
func (r *request) ByteSize() int                           { return len(r.key) + len(r.value) }

// response implements driver.Response.
type response struct {
	bytesSent int
}

func (r *response) Status() finalization.EventStatus { return finalization.Delivered }
func (r *response) BytesSent() int                   { return r.bytesSent }
func (r *response) EventsSent() int                  { return 1 }

// pending correlates one in-flight ProducerMessage with the goroutine
// awaiting its ack, via the message's Metadata field.
type pending struct {
	done chan error
}

// service implements driver.Service[*request, *response] over a
// sarama.AsyncProducer. Exactly one background goroutine drains the
// producer's Successes/Errors channels and routes each ack back to the
// Call that submitted it.
type service struct {
	producer sarama.AsyncProducer
	topic    string
	br       *breaker.Breaker

	mu      sync.Mutex
	waiting map[*sarama.ProducerMessage]*pending
}

func newService(producer sarama.AsyncProducer, topic string, errorThreshold int) *service {
	s := &service{
		producer: producer,
		topic:    topic,
		br:       breaker.New(errorThreshold, 1, 10*time.Second),
		waiting:  make(map[*sarama.ProducerMessage]*pending),
	}
	go s.drainSuccesses()
	go s.drainErrors()
	return s
}

func (s *service) drainSuccesses() {
	for msg := range s.producer.Successes() {
		s.complete(msg, nil)
	}
}

func (s *service) drainErrors() {
	for perr := range s.producer.Errors() {
		s.complete(perr.Msg, perr.Err)
	}
}

func (s *service) complete(msg *sarama.ProducerMessage, err error) {
	s.mu.Lock()
	p, ok := s.waiting[msg]
	if ok {
		delete(s.waiting, msg)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	p.done <- err
}

// Ready always reports ready: admission control lives in Call, where
// the breaker rejects submissions outright once enough consecutive
// failures have opened it. A breaker-open rejection surfaces as a call
// error (finalizer Rejected), not a fatal readiness error, so the
// driver keeps running through the cooldown.
func (s *service) Ready(ctx context.Context) error {
	return nil
}

func (s *service) Call(ctx context.Context, req *request) (*response, error) {
	msg := &sarama.ProducerMessage{Topic: s.topic, Key: sarama.ByteEncoder(req.key), Value: sarama.ByteEncoder(req.value)}
	p := &pending{done: make(chan error, 1)}

	s.mu.Lock()
	s.waiting[msg] = p
	s.mu.Unlock()

	err := s.br.Run(func() error {
		select {
		case s.producer.Input() <- msg:
		case <-ctx.Done():
			return fmt.Errorf("submit: %w", ctx.Err())
		}
		select {
		case ackErr := <-p.done:
			if ackErr != nil {
				return fmt.Errorf("publish: %w", ackErr)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		if errors.Is(err, breaker.ErrBreakerOpen) {
			s.mu.Lock()
			delete(s.waiting, msg)
			s.mu.Unlock()
		}
		return nil, fmt.Errorf("kafkasink: %w", err)
	}
	return &response{bytesSent: len(req.key) + len(req.value)}, nil
}

type sink struct {
	name      string
	spec      Spec
	deps      component.Deps
	svc       *service
	telemetry driver.Telemetry
}

func (sk *sink) run(ctx context.Context) error {
	requests := make(chan *request)
	drv := driver.New[*request, *response](sk.svc, requests, driver.WithTelemetry[*request, *response](sk.telemetry))

	errCh := make(chan error, 1)
	go func() { errCh <- drv.Run(ctx) }()

	for {
		lease, err := sk.deps.Input.Receive(ctx)
		if err != nil {
			close(requests)
			return err
		}
		if lease == nil {
			// Input closed and drained: close the request stream, wait
			// for the driver to settle its remaining in-flight calls,
			// then retire the producer.
			close(requests)
			err := <-errCh
			sk.svc.producer.AsyncClose()
			return err
		}
		b := lease.Item()
		lease.Release()

		for _, ev := range b.Events {
			key, value := sk.spec.Encode(ev.Routing().Namespace)
			req := &request{key: key, value: value, finalizer: ev.Finalizer(), eventCount: 1}
			select {
			case requests <- req:
			case <-ctx.Done():
				close(requests)
				return ctx.Err()
			case driverErr := <-errCh:
				close(requests)
				return driverErr
			}
		}
	}
}

func (sk *sink) healthcheck(ctx context.Context) error {
	return nil
}
