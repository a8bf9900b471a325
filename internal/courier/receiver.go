package courier

import (
	"context"
	"errors"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	dnsserver "github.com/faanross/simulacra_lsb/internal/dns-server"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrQueryFailed    = errors.New("dns query failed")
	ErrAckRejected    = errors.New("acknowledgement rejected")
)

// Receiver fetches messages from the DNS server with TXT lookups
type Receiver struct {
	server      string
	encoder     *chunker.DNSEncoder
	client      *dns.Client
	maxRetries  int
	retryDelay  time.Duration
	concurrency int
	logger      zerolog.Logger
}

// ReceiverOption configures a Receiver
type ReceiverOption func(*Receiver)

// WithRetries sets how often a failed lookup is repeated and the base delay between attempts
func WithRetries(n int, delay time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.maxRetries = n
		r.retryDelay = delay
	}
}

// WithConcurrency bounds parallel chunk lookups
func WithConcurrency(n int) ReceiverOption {
	return func(r *Receiver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTimeout sets the per-query timeout
func WithTimeout(d time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.client.Timeout = d
	}
}

// WithReceiverLogger sets the receiver logger
func WithReceiverLogger(logger zerolog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// NewReceiver creates a receiver that queries server (host:port) for records under domain
func NewReceiver(server, domain string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		server:      server,
		encoder:     chunker.NewDNSEncoder(domain),
		client:      &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		maxRetries:  3,
		retryDelay:  time.Second,
		concurrency: 4,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lookup returns the TXT value for name. found is false for an empty answer.
func (r *Receiver) lookup(ctx context.Context, name string) (value string, found bool, err error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrQueryFailed, name, err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", false, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	default:
		return "", false, fmt.Errorf("%w: %s answered %s", ErrQueryFailed, name, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			return strings.Join(txt.Txt, ""), true, nil
		}
	}
	return "", false, nil
}

// fetch looks up a record that must exist, retrying transient failures
func (r *Receiver) fetch(ctx context.Context, name string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * r.retryDelay):
			}
			r.logger.Debug().Str("name", name).Int("attempt", attempt).Err(lastErr).Msg("retrying lookup")
		}

		value, found, err := r.lookup(ctx, name)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return "", err
		case err != nil:
			lastErr = err
		case !found:
			return "", fmt.Errorf("%w: %s", ErrRecordNotFound, name)
		default:
			return value, nil
		}
	}
	return "", lastErr
}

// FetchManifest retrieves and parses a message manifest
func (r *Receiver) FetchManifest(ctx context.Context, msgID string) (*chunker.DNSManifest, string, error) {
	value, err := r.fetch(ctx, r.encoder.ManifestName(msgID))
	if err != nil {
		return nil, "", fmt.Errorf("manifest fetch failed: %w", err)
	}

	manifest, err := chunker.ParseManifest(msgID, value)
	if err != nil {
		return nil, "", err
	}
	return manifest, value, nil
}

// Fetch retrieves every chunk of a message in parallel and returns the
// reassembled bytes once they match the manifest checksum
func (r *Receiver) Fetch(ctx context.Context, msgID string) ([]byte, *chunker.DNSManifest, error) {
	manifest, value, err := r.FetchManifest(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info().
		Str("msg_id", msgID).
		Int("chunks", manifest.TotalChunks).
		Msg("manifest retrieved")

	records := make([]chunker.DNSRecord, manifest.TotalChunks+1)
	records[0] = chunker.DNSRecord{Name: r.encoder.ManifestName(msgID), Type: "TXT", Value: value}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	for seq := 0; seq < manifest.TotalChunks; seq++ {
		eg.Go(func() error {
			name := r.encoder.ChunkName(seq, msgID)
			data, err := r.fetch(egCtx, name)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", seq, err)
			}
			records[seq+1] = chunker.DNSRecord{Name: name, Type: "TXT", Value: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, manifest, fmt.Errorf("incomplete retrieval: %w", err)
	}

	data, _, err := r.encoder.Reassemble(records)
	if err != nil {
		return nil, manifest, fmt.Errorf("reassembly failed: %w", err)
	}
	return data, manifest, nil
}

// Poll asks the server for messages this client has not seen. Returned IDs
// are marked delivered on the server.
func (r *Receiver) Poll(ctx context.Context, clientID string) ([]string, error) {
	name := fmt.Sprintf("%s.%s.%s", dnsserver.LABEL_CONSUME, clientID, r.encoder.Domain())

	value, found, err := r.lookup(ctx, name)
	if err != nil || !found {
		return nil, err
	}

	var ids []string
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ack marks a message consumed
func (r *Receiver) Ack(ctx context.Context, msgID, clientID string) error {
	name := fmt.Sprintf("%s.%s.%s.%s", dnsserver.LABEL_ACK, msgID, clientID, r.encoder.Domain())

	value, err := r.fetch(ctx, name)
	if err != nil {
		return err
	}
	if value != dnsserver.ACK_OK {
		return fmt.Errorf("%w: %q", ErrAckRejected, value)
	}
	return nil
}

// Handler processes one retrieved message
type Handler func(msgID string, data []byte) error

// WATCH_ATTEMPTS bounds how often Watch retries a message whose fetch or
// handler failed. The server marks a message delivered as soon as Poll returns
// it, so a failed message is not announced again.
const WATCH_ATTEMPTS = 5

// Watch polls every interval until ctx is cancelled, fetching and handing
// each new message to handle. Messages are acknowledged once handle succeeds.
// Failed messages are retried on later polls; a message that no longer exists
// is dropped. The interval doubles after five empty polls in a row.
func (r *Receiver) Watch(ctx context.Context, clientID string, interval time.Duration, handle Handler) error {
	idle := 0
	retry := make(map[string]int) // msgID -> failed attempts

	for {
		ids, err := r.Poll(ctx, clientID)
		if err != nil {
			r.logger.Warn().Err(err).Msg("poll failed")
		}

		for _, id := range append(slices.Sorted(maps.Keys(retry)), ids...) {
			err := r.receive(ctx, clientID, id, handle)
			switch {
			case err == nil:
				delete(retry, id)
			case errors.Is(err, ErrRecordNotFound):
				r.logger.Error().Err(err).Str("msg_id", id).Msg("message gone, dropping")
				delete(retry, id)
			case retry[id]+1 >= WATCH_ATTEMPTS:
				r.logger.Error().Err(err).Str("msg_id", id).Int("attempts", retry[id]+1).Msg("giving up on message")
				delete(retry, id)
			default:
				retry[id]++
				r.logger.Warn().Err(err).Str("msg_id", id).Int("attempts", retry[id]).Msg("message failed, will retry")
			}
		}

		wait := interval
		if len(ids) > 0 || len(retry) > 0 {
			idle = 0
		} else if idle++; idle > 5 {
			wait = 2 * interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// receive fetches one message, hands it to handle and acknowledges it
func (r *Receiver) receive(ctx context.Context, clientID, msgID string, handle Handler) error {
	data, _, err := r.Fetch(ctx, msgID)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if err := handle(msgID, data); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}
	if err := r.Ack(ctx, msgID, clientID); err != nil {
		r.logger.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
	}
	return nil
}
