// Package schema validates the structure of ingested credentials.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed credential_schema.json
var credentialSchemaJSON []byte

// ErrInvalidCredential is returned when a document does not match the credential schema.
var ErrInvalidCredential = errors.New("invalid credential")

var (
	credentialSchema     *gojsonschema.Schema
	loadCredentialSchema sync.Once
	errCredentialSchema  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	loadCredentialSchema.Do(func() {
		credentialSchema, errCredentialSchema = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(credentialSchemaJSON))
		if errCredentialSchema != nil {
			errCredentialSchema = fmt.Errorf("failed to compile credential schema: %w", errCredentialSchema)
		}
	})
	return credentialSchema, errCredentialSchema
}

// ValidateCredential checks a raw JSON credential against the embedded schema.
func ValidateCredential(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidCredential, strings.Join(msgs, "; "))
	}
	return nil
}
