package pendingaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
	"github.com/lendflow/lendflow/internal/users"
)

// CreateTenantUserPayload provisions a new actor in the request's tenant.
type CreateTenantUserPayload struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"required,max=120"`
	Role  string `json:"role" validate:"required"`
}

// AssignTenantRolePayload grants an existing actor a role in the request's
// tenant.
type AssignTenantRolePayload struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Role    string `json:"role" validate:"required"`
}

var payloadValidator = shared.NewValidator()

// normalizePayload decodes raw against the closed schema of t, validates it
// and returns the canonical payload together with its duplicate-detection
// key.
func normalizePayload(t ActionType, raw json.RawMessage) (json.RawMessage, string, error) {
	switch t {
	case ActionCreateTenantUser:
		var p CreateTenantUserPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, "", err
		}
		p.Email = strings.TrimSpace(p.Email)
		p.Name = strings.TrimSpace(p.Name)
		if err := shared.ValidateStruct(payloadValidator, p); err != nil {
			return nil, "", err
		}
		role, err := tenantRole(p.Role)
		if err != nil {
			return nil, "", err
		}
		p.Role = string(role)
		p.Email = users.NormalizeEmail(p.Email)
		out, err := json.Marshal(p)
		return out, "email:" + p.Email, err
	case ActionAssignTenantRole:
		var p AssignTenantRolePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, "", err
		}
		if err := shared.ValidateStruct(payloadValidator, p); err != nil {
			return nil, "", err
		}
		role, err := tenantRole(p.Role)
		if err != nil {
			return nil, "", err
		}
		p.Role = string(role)
		out, err := json.Marshal(p)
		return out, "actor:" + strconv.FormatInt(p.ActorID, 10) + ":" + p.Role, err
	default:
		return nil, "", ErrUnknownActionType
	}
}

// tenantRole accepts only roles that can be granted inside a tenant.
func tenantRole(raw string) (tenancy.RoleType, error) {
	role, err := tenancy.ParseRoleType(raw)
	if err != nil || role.Global() {
		return "", shared.NewValidationError("role", "must be a tenant role")
	}
	return role, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return shared.NewValidationError("payload", "is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return shared.NewValidationError("payload", "must be a single JSON object")
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return shared.NewValidationError(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
	}
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return shared.NewValidationError(strings.Trim(field, `"`), "is not allowed")
	}
	return shared.NewValidationError("payload", "is not valid JSON")
}

func decodeCreateTenantUser(raw json.RawMessage) (CreateTenantUserPayload, error) {
	var p CreateTenantUserPayload
	return p, json.Unmarshal(raw, &p)
}

func decodeAssignTenantRole(raw json.RawMessage) (AssignTenantRolePayload, error) {
	var p AssignTenantRolePayload
	return p, json.Unmarshal(raw, &p)
}
