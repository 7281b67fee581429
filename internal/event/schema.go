// ABOUTME: JSON schemas for the event envelope and each variant's details object
// ABOUTME: Compiled once with santhosh-tekuri/jsonschema and shared by Decode

package event

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://topicmesh.schemas.local/event/"

const envelopeSchema = `{
  "type": "object",
  "required": ["type", "timestamp", "sender"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "timestamp": {"type": "number"},
    "sender": {"type": "string"},
    "details": {"type": "object"},
    "votes": {
      "type": "object",
      "properties": {
        "for": {"type": "integer", "minimum": 0},
        "against": {"type": "integer", "minimum": 0},
        "total": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// detailSchemas holds the details schema for each variant. Types without an
// entry accept any details object.
var detailSchemas = map[Type]string{
	TypePriceUpdate: `{
  "type": "object",
  "required": ["tokenId", "price"],
  "properties": {
    "tokenId": {"type": "string", "minLength": 1},
    "price": {"type": "number", "exclusiveMinimum": 0}
  }
}`,
	TypeRiskAlert: `{
  "type": "object",
  "required": ["severity", "tokenId"],
  "properties": {
    "severity": {"enum": ["low", "medium", "high"]},
    "tokenId": {"type": "string", "minLength": 1}
  }
}`,
	TypeRebalanceProposal: `{
  "type": "object",
  "required": ["proposalId", "newWeights"],
  "properties": {
    "proposalId": {"type": "string", "minLength": 1},
    "newWeights": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}},
    "executeAfter": {"type": "number"},
    "quorum": {"type": "integer", "minimum": 0}
  }
}`,
	TypeRebalanceApproved: `{
  "type": "object",
  "required": ["proposalId"],
  "properties": {"proposalId": {"type": "string", "minLength": 1}}
}`,
	TypeRebalanceExecuted: `{
  "type": "object",
  "required": ["proposalId"],
  "properties": {"proposalId": {"type": "string", "minLength": 1}}
}`,
	TypePolicyChange: `{
  "type": "object",
  "required": ["policyId"],
  "properties": {
    "policyId": {"type": "string", "minLength": 1},
    "changes": {"type": "object"}
  }
}`,
	TypeConnectionRequest: `{
  "type": "object",
  "required": ["requestingAccountId"],
  "properties": {"requestingAccountId": {"type": "string", "minLength": 1}}
}`,
	TypeConnectionCreated: `{
  "type": "object",
  "required": ["connectionTopicId", "connectedAccountId"],
  "properties": {
    "connectionTopicId": {"type": "string", "minLength": 1},
    "connectedAccountId": {"type": "string", "minLength": 1},
    "connectionId": {"type": "integer"}
  }
}`,
	TypeCloseConnection: `{
  "type": "object",
  "required": ["connectionTopicId"],
  "properties": {"connectionTopicId": {"type": "string", "minLength": 1}}
}`,
	TypeAcceptConnection: `{
  "type": "object",
  "required": ["requestId"],
  "properties": {"requestId": {"type": "integer", "minimum": 1}}
}`,
}

type schemaSet struct {
	envelope *jsonschema.Schema
	details  map[Type]*jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     *schemaSet
	schemasErr  error
)

func loadSchemas() (*schemaSet, error) {
	schemasOnce.Do(func() {
		set := &schemaSet{details: make(map[Type]*jsonschema.Schema)}

		set.envelope, schemasErr = compileSchema("envelope", envelopeSchema)
		if schemasErr != nil {
			return
		}
		for typ, src := range detailSchemas {
			compiled, err := compileSchema(string(typ), src)
			if err != nil {
				schemasErr = err
				return
			}
			set.details[typ] = compiled
		}
		schemas = set
	})
	return schemas, schemasErr
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("loading %s schema: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", name, err)
	}
	return compiled, nil
}
