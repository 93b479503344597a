// Package validation checks request payloads against struct tag rules.
//
// It wraps a shared go-playground validator configured to report fields by
// their JSON names and adds the valid_enum rule for types that expose a
// Valid() bool method:
//
//	type TrackRequest struct {
//		ModuleName string     `json:"module_name" validate:"required,max=100"`
//		AccessType AccessType `json:"access_type" validate:"valid_enum"`
//	}
//
//	if errs := validation.Struct(req); len(errs) > 0 {
//		return fmt.Errorf("invalid request: %s", validation.Join(errs))
//	}
package validation
