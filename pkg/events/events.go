package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/diagnosis/reservaja/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func wrap(msg *nats.Msg) *Message {
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
	}
}

// Discard is a Publisher that drops every event. It is used when no NATS URL
// is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, interface{}) error { return nil }
func (Discard) Close() error                                       { return nil }

// Event subjects
const (
	SessionReuseDetected = "auth.session.reuse_detected"
	SessionsRevokedAll   = "auth.sessions.revoked_all"
	EmployeeInvited      = "auth.employee.invited"
	EmployeeJoined       = "auth.employee.joined"
)

// Event payloads
type SessionReuseDetectedEvent struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	FamilyID   string    `json:"family_id"`
	CompanyID  string    `json:"company_id,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

type SessionsRevokedAllEvent struct {
	UserID    string    `json:"user_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

type EmployeeInvitedEvent struct {
	InvitationID string    `json:"invitation_id"`
	Email        string    `json:"email"`
	CompanyID    string    `json:"company_id"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type EmployeeJoinedEvent struct {
	InvitationID string    `json:"invitation_id"`
	UserID       string    `json:"user_id"`
	CompanyID    string    `json:"company_id"`
	Role         string    `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
}
