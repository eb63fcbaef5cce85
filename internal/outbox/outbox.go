// Package outbox publishes drafted emails to a Kafka topic for a mail sender
// to pick up.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/core"
)

// Writer defines the subset of kafka.Writer the outbox uses.
// This allows for easy mocking in unit tests.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON payload of one outbox record.
type Message struct {
	RunID     string     `json:"run_id"`
	Index     int        `json:"index"`
	To        string     `json:"to"`
	Name      string     `json:"name"`
	Company   string     `json:"company"`
	Body      string     `json:"body"`
	Usage     lead.Usage `json:"usage"`
	CreatedAt time.Time  `json:"created_at"`
}

type Outbox struct {
	writer Writer
	now    func() time.Time
}

// New returns an outbox that writes through w.
func New(w Writer) *Outbox {
	return &Outbox{writer: w, now: time.Now}
}

// NewKafkaWriter returns a writer for topic on brokers. Messages with the same
// key, the lead's email, land on the same partition.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  strings.TrimSpace(topic),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

// ForRun binds the outbox to a run so it can be used as an output adapter.
func (o *Outbox) ForRun(runID string) core.OutputAdapter[lead.EmailDraft] {
	return runOutbox{outbox: o, runID: runID}
}

type runOutbox struct {
	outbox *Outbox
	runID  string
}

func (r runOutbox) Store(ctx context.Context, drafts []lead.EmailDraft) error {
	return r.outbox.Publish(ctx, r.runID, drafts)
}

// Publish writes one message per draft in a single batch. Drafts without a
// recipient address are rejected before anything is written.
func (o *Outbox) Publish(ctx context.Context, runID string, drafts []lead.EmailDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	at := o.now().UTC()
	msgs := make([]kafka.Message, 0, len(drafts))
	for _, d := range drafts {
		to := strings.TrimSpace(d.Lead.Email)
		if to == "" {
			return fmt.Errorf("outbox: draft %d has no recipient email", d.Index)
		}
		b, err := json.Marshal(Message{
			RunID:     runID,
			Index:     d.Index,
			To:        to,
			Name:      d.Lead.Name,
			Company:   d.Lead.Company,
			Body:      d.Body,
			Usage:     d.Usage,
			CreatedAt: at,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strings.ToLower(to)),
			Value: b,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(runID)},
				{Key: "content_type", Value: []byte("application/json")},
			},
		})
	}
	if err := o.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d drafts: %w", len(msgs), err)
	}
	return nil
}

func (o *Outbox) Close() error {
	return o.writer.Close()
}
