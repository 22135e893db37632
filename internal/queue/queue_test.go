package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/pipeline"
	"github.com/OFFIS-RIT/ontograph/pkg/leaselock"

	"github.com/rabbitmq/amqp091-go"
)

const runID = "V1StGXR8_Z5jdHi6B-myT"

type published struct {
	exchange, key string
	msg           amqp091.Publishing
}

type fakeChannel struct {
	declared  []string
	args      map[string]amqp091.Table
	exchanges []string
	published []published
	err       error
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	if f.args == nil {
		f.args = map[string]amqp091.Table{}
	}
	f.args[name] = args
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAcknowledger struct {
	acked, nacked, requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{BuildQueue}); err != nil {
		t.Fatalf("SetupQueues: %v", err)
	}
	want := []string{"build_queue", "build_queue_dlq", "build_queue_retry"}
	if !reflect.DeepEqual(ch.declared, want) {
		t.Fatalf("declared = %v, want %v", ch.declared, want)
	}
	if got := ch.args["build_queue_retry"]["x-dead-letter-routing-key"]; got != BuildQueue {
		t.Fatalf("retry queue routes back to %v", got)
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name      string
		headers   amqp091.Table
		cause     error
		wantKey   string
		wantRetry any
	}{
		{"first failure", nil, errors.New("timeout"), "build_queue_retry", int32(1)},
		{"counts up", amqp091.Table{"x-retries": int32(3)}, errors.New("timeout"), "build_queue_retry", int32(4)},
		{"int64 header", amqp091.Table{"x-retries": int64(9)}, errors.New("timeout"), "build_queue_retry", int32(10)},
		{"exhausted", amqp091.Table{"x-retries": int32(10)}, errors.New("timeout"), "build_queue_dlq", int32(10)},
		{"invalid message", nil, fmt.Errorf("%w: bad json", ErrInvalidMessage), "build_queue_dlq", nil},
		{"bad source config", nil, fmt.Errorf("%w: no input", pipeline.ErrSourceConfig), "build_queue_dlq", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAcknowledger{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tc.headers, Body: []byte("{}")}

			HandleProcessingError(context.Background(), ch, msg, BuildQueue, tc.cause)

			if len(ch.published) != 1 || ch.published[0].key != tc.wantKey {
				t.Fatalf("published = %+v, want one message on %s", ch.published, tc.wantKey)
			}
			if got := ch.published[0].msg.Headers["x-retries"]; got != tc.wantRetry {
				t.Errorf("x-retries = %v (%T), want %v", got, got, tc.wantRetry)
			}
			if !ack.acked || ack.nacked {
				t.Errorf("expected ack, got %+v", ack)
			}
		})
	}
}

func TestHandleProcessingErrorPublishFailure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	ack := &fakeAcknowledger{}
	HandleProcessingError(context.Background(), ch, amqp091.Delivery{Acknowledger: ack}, BuildQueue, errors.New("timeout"))
	if ack.acked || !ack.nacked || !ack.requeued {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

func TestParseBuildRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"run_id": "` + runID + `", "source": "obo", "input": "mondo.obo"}`, true},
		{"unknown source", `{"run_id": "` + runID + `", "source": "chembl"}`, false},
		{"missing run id", `{"source": "hgnc"}`, false},
		{"malformed run id", `{"run_id": "../etc", "source": "hgnc"}`, false},
		{"not json", `build hgnc`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBuildRequest([]byte(tc.body))
			if tc.ok && err != nil {
				t.Fatalf("ParseBuildRequest: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestPublishBuild(t *testing.T) {
	ch := &fakeChannel{}
	req := BuildRequest{RunID: runID, Source: "mesh", Options: map[string]string{"year": "2024"}}
	if err := PublishBuild(context.Background(), ch, req); err != nil {
		t.Fatalf("PublishBuild: %v", err)
	}
	if len(ch.published) != 1 || ch.published[0].key != BuildQueue {
		t.Fatalf("published = %+v", ch.published)
	}
	back, err := ParseBuildRequest(ch.published[0].msg.Body)
	if err != nil || !reflect.DeepEqual(*back, req) {
		t.Fatalf("round trip = %+v, %v", back, err)
	}
	if ch.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Errorf("expected a persistent message")
	}

	if err := PublishBuild(context.Background(), ch, BuildRequest{RunID: runID, Source: "x"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

type buildEvent struct {
	runID, status string
	artifacts     []string
	err           error
}

type fakeBuilds struct {
	events []buildEvent
}

func (f *fakeBuilds) RecordBuild(ctx context.Context, runID, source, status string) error {
	f.events = append(f.events, buildEvent{runID: runID, status: status})
	return nil
}

func (f *fakeBuilds) FinishBuild(ctx context.Context, runID string, artifacts []string, runErr error) error {
	status := "succeeded"
	if runErr != nil {
		status = "failed"
	}
	f.events = append(f.events, buildEvent{runID: runID, status: status, artifacts: artifacts, err: runErr})
	return nil
}

type fakeLocker struct {
	keys []string
	opts leaselock.Options
	err  error
}

func (f *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.opts = opts
	return fn(ctx)
}

type fakeRunner struct {
	cfg *config.Config
	err error
}

func (f *fakeRunner) Run(ctx context.Context, source, runID string) (*pipeline.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{RunID: runID, Source: source, Keys: []string{"ontologies/" + runID + "/mondo.json"}}, nil
}

func newProcessor(runner *fakeRunner, builds *fakeBuilds, locker *fakeLocker, events Channel) *Processor {
	cfg := config.Default()
	cfg.Sources = map[string]config.Source{"obo": {Input: "default.obo", Options: map[string]string{"name": "mondo"}}}
	return &Processor{
		Config: cfg,
		NewRunner: func(c *config.Config) (BuildRunner, error) {
			runner.cfg = c
			return runner, nil
		},
		Builds: builds,
		Locker: locker,
		Events: events,
	}
}

func TestProcessBuildMessage(t *testing.T) {
	runner, builds, locker, events := &fakeRunner{}, &fakeBuilds{}, &fakeLocker{}, &fakeChannel{}
	p := newProcessor(runner, builds, locker, events)

	body := `{"run_id": "` + runID + `", "source": "obo", "input": "s3://releases/hp.obo", "options": {"name": "hp"}}`
	if err := p.ProcessBuildMessage(context.Background(), []byte(body)); err != nil {
		t.Fatalf("ProcessBuildMessage: %v", err)
	}

	if !reflect.DeepEqual(locker.keys, []string{"ontology:obo"}) || locker.opts.TokenPrefix != "build/"+runID+"/" {
		t.Errorf("lease = %v %+v", locker.keys, locker.opts)
	}
	if src := runner.cfg.Sources["obo"]; src.Input != "s3://releases/hp.obo" || src.Options["name"] != "hp" {
		t.Errorf("effective source = %+v", src)
	}
	if p.Config.Sources["obo"].Options["name"] != "mondo" {
		t.Errorf("request options leaked into the worker catalog")
	}

	want := []buildEvent{
		{runID: runID, status: "running"},
		{runID: runID, status: "succeeded", artifacts: []string{"ontologies/" + runID + "/mondo.json"}},
	}
	if !reflect.DeepEqual(builds.events, want) {
		t.Errorf("build events = %+v, want %+v", builds.events, want)
	}
	if len(events.published) != 1 || events.published[0].exchange != EventExchange || events.published[0].key != "ontology.built.obo" {
		t.Fatalf("announcements = %+v", events.published)
	}
	var report pipeline.Report
	if err := json.Unmarshal(events.published[0].msg.Body, &report); err != nil || report.RunID != runID {
		t.Errorf("announced report = %+v, %v", report, err)
	}
}

func TestProcessBuildMessageFailures(t *testing.T) {
	boom := errors.New("download failed")

	t.Run("run error is recorded", func(t *testing.T) {
		builds := &fakeBuilds{}
		events := &fakeChannel{}
		p := newProcessor(&fakeRunner{err: boom}, builds, &fakeLocker{}, events)
		err := p.ProcessBuildMessage(context.Background(), []byte(`{"run_id": "`+runID+`", "source": "obo"}`))
		if !errors.Is(err, boom) {
			t.Fatalf("expected run error, got %v", err)
		}
		if len(builds.events) != 2 || builds.events[1].status != "failed" || !errors.Is(builds.events[1].err, boom) {
			t.Fatalf("build events = %+v", builds.events)
		}
		if len(events.published) != 0 {
			t.Fatalf("failed build was announced")
		}
	})

	t.Run("busy lease", func(t *testing.T) {
		builds := &fakeBuilds{}
		p := newProcessor(&fakeRunner{}, builds, &fakeLocker{err: leaselock.ErrBusy}, nil)
		err := p.ProcessBuildMessage(context.Background(), []byte(`{"run_id": "`+runID+`", "source": "obo"}`))
		if !errors.Is(err, leaselock.ErrBusy) || IsPermanent(err) {
			t.Fatalf("expected retryable ErrBusy, got %v", err)
		}
	})

	t.Run("invalid message is not recorded", func(t *testing.T) {
		builds := &fakeBuilds{}
		p := newProcessor(&fakeRunner{}, builds, &fakeLocker{}, nil)
		err := p.ProcessBuildMessage(context.Background(), []byte(`{"source": "obo"}`))
		if !IsPermanent(err) || len(builds.events) != 0 {
			t.Fatalf("err = %v, events = %+v", err, builds.events)
		}
	})
}
