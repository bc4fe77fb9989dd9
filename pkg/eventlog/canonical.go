package eventlog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// canonicalJSON renders v as deterministic JSON: object keys are sorted
// lexicographically at every nesting level and numbers use Go's shortest
// round-tripping decimal form rather than whatever the source encoding used.
// This is the exact byte sequence hashed into event_hash, so any implementation
// walking the same value tree must produce identical bytes.
func canonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeCanonicalString(buf, val)
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("canonical encode: unsupported type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// envelopeForHash maps an Envelope plus its allocated stream_seq into the
// plain map[string]interface{} shape canonicalJSON expects — this is the
// subset of fields that existed at append time, before recorded_at,
// prev_event_hash and event_hash are known.
func envelopeForHash(env Envelope, streamSeq int64) map[string]interface{} {
	m := map[string]interface{}{
		"event_type":      env.EventType,
		"event_version":   env.EventVersion,
		"occurred_at":     env.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		"workspace_id":    env.WorkspaceID,
		"actor_type":      env.ActorType,
		"actor_id":        env.ActorID,
		"zone":            env.Zone,
		"stream_type":     env.StreamType,
		"stream_id":       env.StreamID,
		"stream_seq":      streamSeq,
		"data":            toInterfaceMap(env.Data),
		"correlation_id":  env.CorrelationID,
	}
	if env.MissionID != "" {
		m["mission_id"] = env.MissionID
	}
	if env.RoomID != "" {
		m["room_id"] = env.RoomID
	}
	if env.ThreadID != "" {
		m["thread_id"] = env.ThreadID
	}
	if env.RunID != "" {
		m["run_id"] = env.RunID
	}
	if env.StepID != "" {
		m["step_id"] = env.StepID
	}
	if env.ActorPrincipalID != nil {
		m["actor_principal_id"] = env.ActorPrincipalID.String()
	}
	if env.CausationID != nil {
		m["causation_id"] = env.CausationID.String()
	}
	if env.IdempotencyKey != "" {
		m["idempotency_key"] = env.IdempotencyKey
	}
	return m
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// computeEventHash implements event_hash = SHA256(canonical(envelope) ‖ prev_event_hash).
func computeEventHash(env Envelope, streamSeq int64, prevEventHash string) (string, error) {
	canon, err := canonicalJSON(envelopeForHash(env, streamSeq))
	if err != nil {
		return "", fmt.Errorf("canonicalize event for hashing: %w", err)
	}
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(prevEventHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// recordForHash mirrors envelopeForHash's field selection, sourced from a
// persisted Record rather than a pre-insert Envelope. The two must stay in
// lockstep: this is the same value tree hashed at append time, reconstructed
// from the row read back off evt_events.
func recordForHash(rec Record) map[string]interface{} {
	m := map[string]interface{}{
		"event_type":     rec.EventType,
		"event_version":  rec.EventVersion,
		"occurred_at":    rec.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		"workspace_id":   rec.WorkspaceID,
		"actor_type":     rec.ActorType,
		"actor_id":       rec.ActorID,
		"zone":           rec.Zone,
		"stream_type":    rec.StreamType,
		"stream_id":      rec.StreamID,
		"stream_seq":     rec.StreamSeq,
		"data":           toInterfaceMap(rec.Data),
		"correlation_id": rec.CorrelationID,
	}
	if rec.MissionID != "" {
		m["mission_id"] = rec.MissionID
	}
	if rec.RoomID != "" {
		m["room_id"] = rec.RoomID
	}
	if rec.ThreadID != "" {
		m["thread_id"] = rec.ThreadID
	}
	if rec.RunID != "" {
		m["run_id"] = rec.RunID
	}
	if rec.StepID != "" {
		m["step_id"] = rec.StepID
	}
	if rec.ActorPrincipalID != nil {
		m["actor_principal_id"] = rec.ActorPrincipalID.String()
	}
	if rec.CausationID != nil {
		m["causation_id"] = rec.CausationID.String()
	}
	if rec.IdempotencyKey != "" {
		m["idempotency_key"] = rec.IdempotencyKey
	}
	return m
}

// RecomputeEventHash reproduces event_hash for an already-persisted Record,
// for use by audit verification walks that only have the row back, not the
// original append-time Envelope.
func RecomputeEventHash(rec Record, prevEventHash string) (string, error) {
	canon, err := canonicalJSON(recordForHash(rec))
	if err != nil {
		return "", fmt.Errorf("canonicalize record for hashing: %w", err)
	}
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(prevEventHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
