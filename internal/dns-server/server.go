package dnsserver

import (
	"context"
	"errors"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"strings"
	"time"
)

const (
	DATA_TTL  = 300 // chunks and manifests
	QUEUE_TTL = 60  // consume and ack answers

	// A consume answer carries at most MAX_CONSUME_BATCH IDs, joined into a
	// single TXT string
	MAX_CONSUME_BATCH = 10
	MAX_CONSUME_BYTES = chunker.MAX_DNS_STRING_SIZE

	LABEL_CONSUME = "consume"
	LABEL_ACK     = "ack"
	ACK_OK        = "ok"
)

// Query kinds used in logs and metrics
const (
	kindManifest = "manifest"
	kindChunk    = "chunk"
	kindConsume  = "consume"
	kindAck      = "ack"
	kindOther    = "other"
)

// Server answers TXT queries for the configured domain:
//
//	m-{id}.data.{domain}         manifest
//	c-{seq}-{id}.data.{domain}   chunk
//	consume.{client}.{domain}    comma-separated new message IDs
//	ack.{id}.{client}.{domain}   marks a message consumed
type Server struct {
	domain  string
	queue   *QueueManager
	metrics *Metrics
	logger  zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a DNS/HTTP server over a queue
func NewServer(domain string, queue *QueueManager, opts ...Option) *Server {
	s := &Server{
		domain: strings.ToLower(strings.TrimSuffix(domain, ".")),
		queue:  queue,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeDNS implements dns.Handler
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.Compress = true

	kind := kindOther
	if len(r.Question) != 1 {
		msg.Rcode = dns.RcodeFormatError
	} else {
		kind = s.answer(r.Question[0], msg)
	}

	if s.metrics != nil {
		s.metrics.Queries.WithLabelValues(kind, dns.RcodeToString[msg.Rcode]).Inc()
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Warn().Err(err).Msg("dns write failed")
	}
}

// answer fills msg for a single question and returns the query kind
func (s *Server) answer(q dns.Question, msg *dns.Msg) string {
	qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))

	if qname != s.domain && !strings.HasSuffix(qname, "."+s.domain) {
		msg.Rcode = dns.RcodeRefused
		msg.Authoritative = false
		return kindOther
	}

	// Other types get an empty NOERROR answer and never touch the queue
	if q.Qtype != dns.TypeTXT && q.Qtype != dns.TypeANY {
		return kindOther
	}

	rel := strings.TrimSuffix(strings.TrimSuffix(qname, s.domain), ".")
	if rel == "" {
		return kindOther
	}
	labels := strings.Split(rel, ".")

	switch {
	case len(labels) == 2 && labels[1] == chunker.DEFAULT_SUBDOMAIN:
		return s.answerData(q.Name, labels[0], msg)
	case len(labels) == 2 && labels[0] == LABEL_CONSUME:
		return s.answerConsume(q.Name, labels[1], msg)
	case len(labels) == 3 && labels[0] == LABEL_ACK:
		return s.answerAck(q.Name, labels[1], labels[2], msg)
	}

	msg.Rcode = dns.RcodeNameError
	return kindOther
}

func (s *Server) answerData(qname, label string, msg *dns.Msg) string {
	parsed, err := chunker.ParseLabel(label)
	if err != nil || parsed.Kind == chunker.KindUnknown {
		msg.Rcode = dns.RcodeNameError
		return kindOther
	}

	storage := s.queue.Storage()

	if parsed.Kind == chunker.KindManifest {
		m, err := storage.GetMessage(parsed.MessageID)
		if err != nil {
			s.notFound(msg, err, "manifest", parsed.MessageID)
			return kindManifest
		}
		msg.Answer = append(msg.Answer, txt(qname, DATA_TTL, m.Manifest))
		s.logger.Debug().Str("msg_id", parsed.MessageID).Msg("served manifest")
		return kindManifest
	}

	data, err := storage.GetChunk(parsed.MessageID, parsed.Sequence)
	if err != nil {
		s.notFound(msg, err, "chunk", parsed.MessageID)
		return kindChunk
	}
	msg.Answer = append(msg.Answer, txt(qname, DATA_TTL, data))
	s.logger.Debug().Str("msg_id", parsed.MessageID).Int("seq", parsed.Sequence).Msg("served chunk")
	return kindChunk
}

func (s *Server) answerConsume(qname, clientID string, msg *dns.Msg) string {
	messages, err := s.queue.ConsumeMessages(clientID, MAX_CONSUME_BATCH, MAX_CONSUME_BYTES)
	if err != nil {
		s.logger.Error().Err(err).Str("client", clientID).Msg("consume failed")
		msg.Rcode = dns.RcodeServerFailure
		return kindConsume
	}

	if len(messages) == 0 {
		return kindConsume
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	msg.Answer = append(msg.Answer, txt(qname, QUEUE_TTL, strings.Join(ids, ",")))

	s.logger.Info().Str("client", clientID).Int("messages", len(ids)).Msg("client consumed messages")
	return kindConsume
}

func (s *Server) answerAck(qname, msgID, clientID string, msg *dns.Msg) string {
	if err := s.queue.AcknowledgeMessage(msgID, clientID); err != nil {
		s.notFound(msg, err, "ack", msgID)
		return kindAck
	}
	msg.Answer = append(msg.Answer, txt(qname, QUEUE_TTL, ACK_OK))
	s.logger.Info().Str("client", clientID).Str("msg_id", msgID).Msg("message acknowledged")
	return kindAck
}

func (s *Server) notFound(msg *dns.Msg, err error, what, msgID string) {
	if errors.Is(err, ErrMessageNotFound) || errors.Is(err, ErrChunkNotFound) {
		msg.Rcode = dns.RcodeNameError
		return
	}
	s.logger.Error().Err(err).Str("lookup", what).Str("msg_id", msgID).Msg("storage lookup failed")
	msg.Rcode = dns.RcodeServerFailure
}

func txt(name string, ttl uint32, value string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(name),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Txt: []string{value},
	}
}

// ListenAndServeDNS serves DNS on addr until ctx is cancelled
func (s *Server) ListenAndServeDNS(ctx context.Context, addr, network string) error {
	srv := &dns.Server{
		Addr:    addr,
		Net:     network,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.ShutdownContext(shutdownCtx)
	}
}

// RunExpiry removes expired messages every interval until ctx is cancelled
func (s *Server) RunExpiry(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.queue.CleanExpired(ttl)
			if err != nil {
				s.logger.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.Info().Int("removed", removed).Msg("cleaned expired messages")
			}
		}
	}
}
