// Package beacon implements the HTTP beacon ingress: a raw TCP listener
// that accepts minimal GET beacons from browsers, republishes them as
// logjam envelopes on a PUB socket, and answers each connection with a
// single HTTP response before closing it.
package beacon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/logjam-io/logjam-importer/internal/envelope"
	"github.com/logjam-io/logjam-importer/internal/logging"
	"github.com/logjam-io/logjam-importer/internal/metrics"
	"github.com/logjam-io/logjam-importer/internal/transport"
)

const (
	pathPrefixAjax  = "GET /logjam/ajax?"
	pathPrefixPage  = "GET /logjam/page?"
	pathPrefixAlive = "GET /alive.txt "
)

var (
	httpResponseOK = []byte("HTTP/1.1 200 OK\r\n" +
		"Cache-Control: private\r\n" +
		"Content-Disposition: inline\r\n" +
		"Content-Transfer-Encoding: binary\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n" +
		"\r\n")

	httpResponseFail = []byte("HTTP/1.1 400 Bad Request\r\n" +
		"Cache-Control: private\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n" +
		"\r\n")

	httpResponseAlive = []byte("HTTP/1.1 200 OK\r\n" +
		"Cache-Control: private\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 6\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"ALIVE\n")
)

// integerCoercionKeys is the fixed set of query-string keys whose values
// are parsed as 64-bit signed integers rather than kept as strings.
var integerCoercionKeys = map[string]bool{
	"viewport_height": true,
	"viewport_width":  true,
	"html_nodes":      true,
	"script_nodes":    true,
	"style_nodes":     true,
	"v":               true,
}

var requestIDPattern = regexp.MustCompile(`^([^-]+)-([^-]+)`)

// Config configures the beacon ingress.
type Config struct {
	DeviceNumber uint32
}

// Ingress owns the beacon's raw TCP listener and PUB socket. It is driven
// by a single goroutine (Run); the sequence counter and tick stats are
// therefore single-threaded by construction, matching spec §7's "HTTP
// sequence counter (single-threaded in that process)".
type Ingress struct {
	cfg    Config
	stream *transport.StreamSocket
	nc     *nats.Conn
	sink   *metrics.BeaconSink
	logger zerolog.Logger

	sequence uint64

	startedAt string

	tick struct {
		messages uint64
		invalid  uint64
		totalKB  float64
		peakKB   float64
	}
}

// New wires a beacon ingress around an already-bound stream socket and
// PUB connection.
func New(cfg Config, stream *transport.StreamSocket, nc *nats.Conn, sink *metrics.BeaconSink, logger zerolog.Logger) *Ingress {
	return &Ingress{
		cfg:       cfg,
		stream:    stream,
		nc:        nc,
		sink:      sink,
		logger:    logger.With().Str("component", "beacon").Logger(),
		startedAt: formatStartedAt(time.Now()),
	}
}

func formatStartedAt(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-0700")
}

// Run drives the ingress event loop: one goroutine draining connection
// requests, a 1-second ticker for the throughput summary, and stop for
// graceful shutdown.
func (ig *Ingress) Run(stop <-chan struct{}) {
	defer logging.RecoverPanic(ig.logger, "beacon.Run", nil)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case req := <-ig.stream.Requests:
			ig.handleRequest(req)

		case <-ticker.C:
			ig.emitTick()

		case <-stop:
			return
		}
	}
}

// handleRequest implements spec §4.4's per-connection request parsing and
// response.
func (ig *Ingress) handleRequest(req transport.StreamRequest) {
	ig.tick.messages++
	kb := float64(len(req.Data)) / 1024.0
	ig.tick.totalKB += kb
	if kb > ig.tick.peakKB {
		ig.tick.peakKB = kb
	}

	crlf := bytes.Index(req.Data, []byte("\r\n"))
	if crlf < 0 {
		ig.reject(req.ConnID)
		return
	}

	switch {
	case bytes.HasPrefix(req.Data, []byte(pathPrefixAlive)):
		_ = ig.stream.Respond(req.ConnID, httpResponseAlive)
		return

	case bytes.HasPrefix(req.Data, []byte(pathPrefixAjax)):
		ig.handleBeacon(req, "ajax", len(pathPrefixAjax))
		return

	case bytes.HasPrefix(req.Data, []byte(pathPrefixPage)):
		ig.handleBeacon(req, "page", len(pathPrefixPage))
		return

	default:
		ig.reject(req.ConnID)
	}
}

func (ig *Ingress) handleBeacon(req transport.StreamRequest, msgType string, prefixLen int) {
	rest := req.Data[prefixLen:]
	spaceIdx := bytes.IndexByte(rest, ' ')
	if spaceIdx < 0 {
		ig.reject(req.ConnID)
		return
	}
	query := rest[:spaceIdx]
	tail := rest[spaceIdx:]
	if !bytes.HasPrefix(tail, []byte(" HTTP/1.1\r\n")) && !bytes.HasPrefix(tail, []byte(" HTTP/1.0\r\n")) {
		ig.reject(req.ConnID)
		return
	}

	fields := decodeQuery(query)
	fields["started_ms"] = time.Now().UnixMilli()
	fields["started_at"] = ig.startedAt

	app, env, ok := validateFields(fields)
	if !ok {
		ig.reject(req.ConnID)
		return
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		ig.reject(req.ConnID)
		return
	}

	ig.sequence++
	meta := &envelope.Meta{
		DeviceNumber:   ig.cfg.DeviceNumber,
		SequenceNumber: ig.sequence,
		CreatedMs:      time.Now().UnixMilli(),
	}
	appEnv := app + "-" + env
	routingKey := fmt.Sprintf("frontend.%s.%s.%s", msgType, app, env)

	msg := &envelope.Envelope{AppEnv: appEnv, Topic: routingKey, Payload: payload, Meta: meta}
	if err := transport.Publish(ig.nc, routingKey, msg.ToFrames()); err != nil {
		ig.logger.Warn().Err(err).Msg("failed to publish beacon envelope")
		ig.reject(req.ConnID)
		return
	}

	if err := ig.stream.Respond(req.ConnID, httpResponseOK); err != nil {
		ig.logger.Warn().Err(err).Msg("failed to send beacon response")
	}
}

func (ig *Ingress) reject(connID string) {
	ig.tick.invalid++
	if err := ig.stream.Respond(connID, httpResponseFail); err != nil {
		ig.logger.Warn().Err(err).Msg("failed to send rejection response")
	}
}

// decodeQuery splits a `&`-joined query string into key/value pairs,
// percent- and plus-decodes each value, and coerces values for keys in
// integerCoercionKeys to int64 (silently 0 on parse failure).
func decodeQuery(query []byte) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, pair := range bytes.Split(query, []byte("&")) {
		eq := bytes.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key := string(pair[:eq])
		value := decodeQueryValue(pair[eq+1:])

		if integerCoercionKeys[key] {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				n = 0
			}
			fields[key] = n
		} else {
			fields[key] = value
		}
	}
	return fields
}

// decodeQueryValue percent-decodes %HH sequences and turns '+' into a
// literal space, matching application/x-www-form-urlencoded.
func decodeQueryValue(raw []byte) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '%':
			if i+2 < len(raw) {
				if n, err := strconv.ParseUint(string(raw[i+1:i+3]), 16, 8); err == nil {
					out = append(out, byte(n))
					i += 2
					continue
				}
			}
			out = append(out, raw[i])
		case '+':
			out = append(out, ' ')
		default:
			out = append(out, raw[i])
		}
	}
	return string(out)
}

// validateFields implements spec §4.4 step 7: version check, required
// keys, request-id length, and app/env extraction.
func validateFields(fields map[string]interface{}) (app, env string, ok bool) {
	version, _ := fields["v"].(int64)
	if version != 1 {
		return "", "", false
	}

	requestID, _ := fields["logjam_request_id"].(string)
	if requestID == "" || len(requestID) > 255 {
		return "", "", false
	}

	if _, hasAction := fields["logjam_action"].(string); !hasAction {
		return "", "", false
	}

	m := requestIDPattern.FindStringSubmatch(requestID)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (ig *Ingress) emitTick() {
	ig.sink.EmitTick(metrics.BeaconTickCounts{
		Messages: ig.tick.messages,
		Invalid:  ig.tick.invalid,
		TotalKB:  ig.tick.totalKB,
		PeakKB:   ig.tick.peakKB,
	})

	ig.tick.messages = 0
	ig.tick.invalid = 0
	ig.tick.totalKB = 0
	ig.tick.peakKB = 0
	ig.startedAt = formatStartedAt(time.Now())
}

// SequenceNumber returns the current (already-incremented) sequence value.
// Safe to call only from the same goroutine running Run, or after it has
// stopped.
func (ig *Ingress) SequenceNumber() uint64 {
	return ig.sequence
}
