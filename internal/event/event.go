// ABOUTME: Domain event variants exchanged over topics
// ABOUTME: Sealed DomainEvent interface, envelope header, and per-type details

package event

// Type is the wire discriminant of a domain event.
type Type string

const (
	TypePriceUpdate       Type = "PriceUpdate"
	TypeRiskAlert         Type = "RiskAlert"
	TypeRebalanceProposal Type = "RebalanceProposal"
	TypeRebalanceApproved Type = "RebalanceApproved"
	TypeRebalanceExecuted Type = "RebalanceExecuted"
	TypePolicyChange      Type = "PolicyChange"
	TypeConnectionRequest Type = "connection_request"
	TypeConnectionCreated Type = "connection_created"
	TypeCloseConnection   Type = "close_connection"
	TypeAcceptConnection  Type = "accept_connection"
)

// Types lists every known discriminant.
var Types = []Type{
	TypePriceUpdate,
	TypeRiskAlert,
	TypeRebalanceProposal,
	TypeRebalanceApproved,
	TypeRebalanceExecuted,
	TypePolicyChange,
	TypeConnectionRequest,
	TypeConnectionCreated,
	TypeCloseConnection,
	TypeAcceptConnection,
}

// Severity grades a RiskAlert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Votes carries governance tallies attached to an event.
type Votes struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Total   int `json:"total"`
}

// Header is the envelope shared by every event.
type Header struct {
	Timestamp int64 // unix milliseconds
	Sender    string
	Votes     *Votes
}

// Meta returns the envelope.
func (h Header) Meta() Header { return h }

// DomainEvent is implemented only by the variants in this package.
type DomainEvent interface {
	Type() Type
	Meta() Header
	details() any
	isDomainEvent()
}

type PriceUpdateDetails struct {
	TokenID string  `json:"tokenId"`
	Price   float64 `json:"price"`
	Source  string  `json:"source,omitempty"`
}

// PriceUpdate reports a new price sample for one token.
type PriceUpdate struct {
	Header
	Details PriceUpdateDetails
}

type RiskAlertDetails struct {
	Severity    Severity `json:"severity"`
	TokenID     string   `json:"tokenId"`
	PriceChange float64  `json:"priceChange"`
	Volatility  float64  `json:"volatility"`
	Message     string   `json:"message,omitempty"`
}

// RiskAlert flags a token whose price moved past a severity threshold.
type RiskAlert struct {
	Header
	Details RiskAlertDetails
}

type RebalanceProposalDetails struct {
	ProposalID   string             `json:"proposalId"`
	NewWeights   map[string]float64 `json:"newWeights"`
	ExecuteAfter int64              `json:"executeAfter"`
	Quorum       int                `json:"quorum,omitempty"`
	Trigger      string             `json:"trigger,omitempty"`
}

// RebalanceProposal asks governance to move the portfolio to new weights.
type RebalanceProposal struct {
	Header
	Details RebalanceProposalDetails
}

type RebalanceApprovedDetails struct {
	ProposalID string `json:"proposalId"`
	ApprovedAt int64  `json:"approvedAt,omitempty"`
}

// RebalanceApproved signals that a proposal reached quorum.
type RebalanceApproved struct {
	Header
	Details RebalanceApprovedDetails
}

type RebalanceExecutedDetails struct {
	ProposalID   string             `json:"proposalId"`
	PreBalances  map[string]float64 `json:"preBalances"`
	PostBalances map[string]float64 `json:"postBalances"`
	ExecutedAt   int64              `json:"executedAt"`
}

// RebalanceExecuted records the balances before and after a rebalance.
type RebalanceExecuted struct {
	Header
	Details RebalanceExecutedDetails
}

type PolicyChangeDetails struct {
	PolicyID      string         `json:"policyId"`
	Changes       map[string]any `json:"changes"`
	EffectiveFrom int64          `json:"effectiveFrom,omitempty"`
}

// PolicyChange updates governance parameters.
type PolicyChange struct {
	Header
	Details PolicyChangeDetails
}

type ConnectionRequestDetails struct {
	RequestingAccountID string `json:"requestingAccountId"`
	InboundTopicID      string `json:"inboundTopicId,omitempty"`
	Memo                string `json:"memo,omitempty"`
}

// ConnectionRequest opens a handshake with the receiving account.
type ConnectionRequest struct {
	Header
	Details ConnectionRequestDetails
}

type ConnectionCreatedDetails struct {
	ConnectionTopicID  string `json:"connectionTopicId"`
	ConnectedAccountID string `json:"connectedAccountId"`
	ConnectionID       int64  `json:"connectionId"`
	Memo               string `json:"memo,omitempty"`
}

// ConnectionCreated answers a ConnectionRequest with the shared topic.
type ConnectionCreated struct {
	Header
	Details ConnectionCreatedDetails
}

type CloseConnectionDetails struct {
	ConnectionTopicID string `json:"connectionTopicId"`
	Reason            string `json:"reason,omitempty"`
}

// CloseConnection ends a connection.
type CloseConnection struct {
	Header
	Details CloseConnectionDetails
}

type AcceptConnectionDetails struct {
	RequestID int64  `json:"requestId"`
	Memo      string `json:"memo,omitempty"`
}

// AcceptConnection is an operator command approving a pending request.
type AcceptConnection struct {
	Header
	Details AcceptConnectionDetails
}

func (*PriceUpdate) Type() Type       { return TypePriceUpdate }
func (*RiskAlert) Type() Type         { return TypeRiskAlert }
func (*RebalanceProposal) Type() Type { return TypeRebalanceProposal }
func (*RebalanceApproved) Type() Type { return TypeRebalanceApproved }
func (*RebalanceExecuted) Type() Type { return TypeRebalanceExecuted }
func (*PolicyChange) Type() Type      { return TypePolicyChange }
func (*ConnectionRequest) Type() Type { return TypeConnectionRequest }
func (*ConnectionCreated) Type() Type { return TypeConnectionCreated }
func (*CloseConnection) Type() Type   { return TypeCloseConnection }
func (*AcceptConnection) Type() Type  { return TypeAcceptConnection }

func (e *PriceUpdate) details() any       { return e.Details }
func (e *RiskAlert) details() any         { return e.Details }
func (e *RebalanceProposal) details() any { return e.Details }
func (e *RebalanceApproved) details() any { return e.Details }
func (e *RebalanceExecuted) details() any { return e.Details }
func (e *PolicyChange) details() any      { return e.Details }
func (e *ConnectionRequest) details() any { return e.Details }
func (e *ConnectionCreated) details() any { return e.Details }
func (e *CloseConnection) details() any   { return e.Details }
func (e *AcceptConnection) details() any  { return e.Details }

func (*PriceUpdate) isDomainEvent()       {}
func (*RiskAlert) isDomainEvent()         {}
func (*RebalanceProposal) isDomainEvent() {}
func (*RebalanceApproved) isDomainEvent() {}
func (*RebalanceExecuted) isDomainEvent() {}
func (*PolicyChange) isDomainEvent()      {}
func (*ConnectionRequest) isDomainEvent() {}
func (*ConnectionCreated) isDomainEvent() {}
func (*CloseConnection) isDomainEvent()   {}
func (*AcceptConnection) isDomainEvent()  {}

// IsPriceUpdate reports whether e is a *PriceUpdate.
func IsPriceUpdate(e DomainEvent) bool { _, ok := e.(*PriceUpdate); return ok }

// IsRiskAlert reports whether e is a *RiskAlert.
func IsRiskAlert(e DomainEvent) bool { _, ok := e.(*RiskAlert); return ok }

// IsRebalanceProposal reports whether e is a *RebalanceProposal.
func IsRebalanceProposal(e DomainEvent) bool { _, ok := e.(*RebalanceProposal); return ok }

// IsRebalanceApproved reports whether e is a *RebalanceApproved.
func IsRebalanceApproved(e DomainEvent) bool { _, ok := e.(*RebalanceApproved); return ok }

// IsRebalanceExecuted reports whether e is a *RebalanceExecuted.
func IsRebalanceExecuted(e DomainEvent) bool { _, ok := e.(*RebalanceExecuted); return ok }

// IsPolicyChange reports whether e is a *PolicyChange.
func IsPolicyChange(e DomainEvent) bool { _, ok := e.(*PolicyChange); return ok }

// IsConnectionRequest reports whether e is a *ConnectionRequest.
func IsConnectionRequest(e DomainEvent) bool { _, ok := e.(*ConnectionRequest); return ok }

// IsConnectionCreated reports whether e is a *ConnectionCreated.
func IsConnectionCreated(e DomainEvent) bool { _, ok := e.(*ConnectionCreated); return ok }

// IsCloseConnection reports whether e is a *CloseConnection.
func IsCloseConnection(e DomainEvent) bool { _, ok := e.(*CloseConnection); return ok }

// IsAcceptConnection reports whether e is a *AcceptConnection.
func IsAcceptConnection(e DomainEvent) bool { _, ok := e.(*AcceptConnection); return ok }
