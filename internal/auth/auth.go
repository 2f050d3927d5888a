// Package auth resolves operator credentials. It is the only authorization
// check in the system; everything downstream receives a resolved caller.
package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Operator maps a bearer token to an operator identity.
type Operator struct {
	ID    string
	Token string
}

// Authorizer checks operator tokens and identities.
type Authorizer struct {
	operators []Operator
}

// NewAuthorizer builds an authorizer over the configured operators.
func NewAuthorizer(operators []Operator) *Authorizer {
	return &Authorizer{operators: append([]Operator(nil), operators...)}
}

// Authenticate resolves an Authorization header value into a caller.
func (a *Authorizer) Authenticate(header string) (models.Caller, error) {
	const op = "auth.Authenticate"
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return models.Caller{}, &utils.AppError{Op: op, Msg: "missing bearer token", Kind: utils.ErrUnauthorized}
	}
	token = strings.TrimSpace(token)

	var matched models.Caller
	found := false
	// Compare against every entry so timing does not reveal the matching index.
	for _, o := range a.operators {
		if subtle.ConstantTimeCompare([]byte(o.Token), []byte(token)) == 1 && !found {
			matched = models.Caller{ID: o.ID}
			found = true
		}
	}
	if !found {
		return models.Caller{}, &utils.AppError{Op: op, Msg: "unknown token", Kind: utils.ErrUnauthorized}
	}
	return matched, nil
}

// RequireOperator fails unless callerID is a configured operator.
func (a *Authorizer) RequireOperator(_ context.Context, callerID string) error {
	for _, o := range a.operators {
		if o.ID == callerID && callerID != "" {
			return nil
		}
	}
	return &utils.AppError{Op: "auth.RequireOperator", Msg: "caller " + callerID + " is not an operator", Kind: utils.ErrForbidden}
}
