// Package api embeds the HTTP and event contracts of the stock ledger.
package api

import _ "embed"

// OpenAPI is the HTTP contract served by cmd/api
//
//go:embed openapi.yaml
var OpenAPI []byte

// AsyncAPI describes the CloudEvents published and consumed by the stock ledger
//
//go:embed asyncapi.yaml
var AsyncAPI []byte
