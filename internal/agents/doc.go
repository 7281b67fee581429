// Package agents holds the domain agents that run on the runtime.
//
// # Risk assessment
//
// RiskAgent keeps the last N prices per token. On each PriceUpdate it measures
// the fractional change of the latest price against the oldest retained
// sample and the population standard deviation of consecutive returns, and
// publishes a RiskAlert when the change reaches the medium or high threshold.
//
// # Rebalancing
//
// RebalanceAgent records RebalanceProposals and executes a proposal once it is
// approved (an explicit RebalanceApproved, or votes.for reaching quorum) and
// its executeAfter time has passed. Execution reads balances from a
// BalanceSource, computes target balances from the proposed weights and
// publishes RebalanceExecuted. Executed proposal IDs are remembered so a
// redelivered proposal is never executed twice. A failed execution leaves the
// proposal parked until Retry is called.
//
// # Price feed
//
// PriceFeedAgent is emit-only: every tick it publishes one PriceUpdate per
// tracked token using a PriceSource.
package agents
