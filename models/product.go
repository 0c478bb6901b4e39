// Package models defines data structures for the harvester.
package models

import "encoding/json"

// ProductRef identifies a catalog item and where it was discovered.
type ProductRef struct {
	ID        string `json:"product_id"`
	MediaType string `json:"media_type,omitempty"`
	ChoiceID  string `json:"choice_id,omitempty"`
}

// ProductBundle carries the upstream payloads fetched for one product.
// Detail and Rating are kept raw so missing fields can be told apart from
// empty ones during normalization.
type ProductBundle struct {
	Ref     ProductRef
	Detail  json.RawMessage
	Rating  json.RawMessage
	Reviews []json.RawMessage
}
