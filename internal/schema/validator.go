// Package schema validates outbound transcript events before they are
// published to Kafka, catching a malformed event before it reaches a
// downstream consumer rather than after.
package schema

import "github.com/go-playground/validator/v10"

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New()}
}

// Validate runs struct-tag validation over event. Events with no validate
// tags pass trivially.
func (val *Validator) Validate(event any) error {
	return val.v.Struct(event)
}
