package presence

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the snapshot feed needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every snapshot as JSON on a subject.
// It is an outbound feed only; nothing subscribes back into the registry.
type NATSPublisher struct {
	nc      Publisher
	subject string
	log     *slog.Logger
}

// snapshotMessage is the JSON body published on the subject.
type snapshotMessage struct {
	Revision uint64    `json:"revision"`
	UserIDs  []string  `json:"user_ids"`
	At       time.Time `json:"at"`
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, name string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats.disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats.reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// NewNATSPublisher returns a publisher on subject. The caller owns nc,
// which is usually the *nats.Conn returned by DialNATS.
func NewNATSPublisher(nc Publisher, subject string, log *slog.Logger) *NATSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{nc: nc, subject: subject, log: log}
}

// ObserveSnapshot publishes s. Failures are logged and otherwise ignored.
func (p *NATSPublisher) ObserveSnapshot(s Snapshot) {
	ids := s.Identities
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(snapshotMessage{Revision: s.Revision, UserIDs: ids, At: s.At})
	if err != nil {
		p.log.Warn("presence.nats.marshal", "err", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn("presence.nats.publish", "subject", p.subject, "revision", s.Revision, "err", err)
		return
	}
	p.log.Debug("presence.nats.published", "subject", p.subject, "revision", s.Revision, "online", len(ids))
}
