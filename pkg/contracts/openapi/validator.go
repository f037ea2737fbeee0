// Package openapi checks HTTP traffic against the embedded OpenAPI contract
// of the stock ledger API.
package openapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// Validator validates HTTP requests and responses against an OpenAPI document
type Validator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewValidatorFromBytes loads and validates the document, then builds a router
// over its servers and paths
func NewValidatorFromBytes(specBytes []byte) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenAPI router: %w", err)
	}
	return &Validator{doc: doc, router: router}, nil
}

// HasRoute reports whether the contract defines the request's path and method
func (v *Validator) HasRoute(req *http.Request) bool {
	_, _, err := v.router.FindRoute(req)
	return err == nil
}

func (v *Validator) input(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return nil, fmt.Errorf("no contract route for %s %s: %w", req.Method, req.URL.Path, err)
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
	}, nil
}

// ValidateRequest checks parameters, headers and body of req. Every violation
// is reported, not only the first.
func (v *Validator) ValidateRequest(req *http.Request) error {
	input, err := v.input(req)
	if err != nil {
		return err
	}
	input.Options = &openapi3filter.Options{
		MultiError:         true,
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// ValidateResponse checks status, headers and body of resp for the operation
// req was routed to. resp.Body stays readable afterwards.
func (v *Validator) ValidateResponse(req *http.Request, resp *http.Response) error {
	input, err := v.input(req)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	err = openapi3filter.ValidateResponse(req.Context(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		return fmt.Errorf("response validation failed: %w", err)
	}
	return nil
}

// GetPaths lists the document's path templates in order
func (v *Validator) GetPaths() []string {
	if v.doc.Paths == nil {
		return nil
	}
	paths := make([]string, 0, v.doc.Paths.Len())
	for path := range v.doc.Paths.Map() {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
