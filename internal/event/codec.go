// ABOUTME: Decode and Encode between JSON payloads and DomainEvent variants
// ABOUTME: Rejects unknown types and schema violations with ErrInvalidPayload

package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPayload marks a payload that is not a well-formed domain event.
var ErrInvalidPayload = errors.New("invalid payload")

// wireEvent is the JSON envelope on the topic.
type wireEvent struct {
	Type      Type            `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Sender    string          `json:"sender"`
	Details   json.RawMessage `json:"details,omitempty"`
	Votes     *Votes          `json:"votes,omitempty"`
}

// maxMillis bounds epoch milliseconds so rounding stays inside int64.
const maxMillis = 1 << 62

// millis rounds a JSON number to epoch milliseconds.
func millis(v float64) (int64, error) {
	if math.IsNaN(v) || math.Abs(v) >= maxMillis {
		return 0, fmt.Errorf("%v is out of range", v)
	}
	return int64(math.Round(v)), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// Decode parses raw into a typed DomainEvent.
func Decode(raw []byte) (DomainEvent, error) {
	set, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("loading schemas: %w", err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, invalid("malformed json: %v", err)
	}
	if err := set.envelope.Validate(doc); err != nil {
		return nil, invalid("envelope: %v", err)
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, invalid("envelope: %v", err)
	}

	ev, err := newVariant(w.Type)
	if err != nil {
		return nil, err
	}

	details := w.Details
	if len(details) == 0 || bytes.Equal(details, []byte("null")) {
		details = []byte("{}")
	}
	if schema, ok := set.details[w.Type]; ok {
		var d any
		dd := json.NewDecoder(bytes.NewReader(details))
		dd.UseNumber()
		if err := dd.Decode(&d); err != nil {
			return nil, invalid("%s details: %v", w.Type, err)
		}
		if err := schema.Validate(d); err != nil {
			return nil, invalid("%s details: %v", w.Type, err)
		}
	}

	ts, err := millis(w.Timestamp)
	if err != nil {
		return nil, invalid("timestamp: %v", err)
	}
	header := Header{
		Timestamp: ts,
		Sender:    w.Sender,
		Votes:     w.Votes,
	}
	if err := ev.fill(header, details); err != nil {
		return nil, invalid("%s details: %v", w.Type, err)
	}
	return ev, nil
}

// DecodeString is Decode for topic payload strings.
func DecodeString(raw string) (DomainEvent, error) {
	return Decode([]byte(raw))
}

// Encode renders e as a JSON payload.
func Encode(e DomainEvent) ([]byte, error) {
	if e == nil {
		return nil, errors.New("encoding nil event")
	}
	details, err := json.Marshal(e.details())
	if err != nil {
		return nil, fmt.Errorf("encoding %s details: %w", e.Type(), err)
	}
	meta := e.Meta()
	return json.Marshal(wireEvent{
		Type:      e.Type(),
		Timestamp: float64(meta.Timestamp),
		Sender:    meta.Sender,
		Details:   details,
		Votes:     meta.Votes,
	})
}

// filler is implemented by every variant pointer.
type filler interface {
	DomainEvent
	fill(h Header, details []byte) error
}

func newVariant(t Type) (filler, error) {
	switch t {
	case TypePriceUpdate:
		return &PriceUpdate{}, nil
	case TypeRiskAlert:
		return &RiskAlert{}, nil
	case TypeRebalanceProposal:
		return &RebalanceProposal{}, nil
	case TypeRebalanceApproved:
		return &RebalanceApproved{}, nil
	case TypeRebalanceExecuted:
		return &RebalanceExecuted{}, nil
	case TypePolicyChange:
		return &PolicyChange{}, nil
	case TypeConnectionRequest:
		return &ConnectionRequest{}, nil
	case TypeConnectionCreated:
		return &ConnectionCreated{}, nil
	case TypeCloseConnection:
		return &CloseConnection{}, nil
	case TypeAcceptConnection:
		return &AcceptConnection{}, nil
	default:
		return nil, invalid("unknown event type %q", t)
	}
}

func (e *PriceUpdate) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *RiskAlert) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *RebalanceProposal) fill(h Header, d []byte) error {
	e.Header = h
	var raw struct {
		ProposalID   string             `json:"proposalId"`
		NewWeights   map[string]float64 `json:"newWeights"`
		ExecuteAfter float64            `json:"executeAfter"`
		Quorum       int                `json:"quorum"`
		Trigger      string             `json:"trigger"`
	}
	if err := json.Unmarshal(d, &raw); err != nil {
		return err
	}
	after, err := millis(raw.ExecuteAfter)
	if err != nil {
		return fmt.Errorf("executeAfter: %w", err)
	}
	e.Details = RebalanceProposalDetails{
		ProposalID:   raw.ProposalID,
		NewWeights:   raw.NewWeights,
		ExecuteAfter: after,
		Quorum:       raw.Quorum,
		Trigger:      raw.Trigger,
	}
	return nil
}

func (e *RebalanceApproved) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *RebalanceExecuted) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *PolicyChange) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *ConnectionRequest) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *ConnectionCreated) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *CloseConnection) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}

func (e *AcceptConnection) fill(h Header, d []byte) error {
	e.Header = h
	return json.Unmarshal(d, &e.Details)
}
