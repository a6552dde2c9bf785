package pendingaction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTenantUserDedupeKeyFoldsEmail(t *testing.T) {
	_, a, err := normalizePayload(ActionCreateTenantUser, json.RawMessage(`{"email":"Officer@Bank.Example","name":"O","role":"loan_officer"}`))
	require.NoError(t, err)
	_, b, err := normalizePayload(ActionCreateTenantUser, json.RawMessage(`{"email":"  officer@bank.example ","name":"Other","role":"CLERK"}`))
	require.NoError(t, err)
	require.Equal(t, "email:officer@bank.example", a)
	require.Equal(t, a, b)
}

func TestNormalizedPayloadIsCanonical(t *testing.T) {
	out, _, err := normalizePayload(ActionCreateTenantUser, json.RawMessage(`{"role":"loan-officer","name":" Ann ","email":"ANN@x.com"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"email":"ann@x.com","name":"Ann","role":"LOAN_OFFICER"}`, string(out))
}

func TestPayloadRejectsTrailingData(t *testing.T) {
	_, _, err := normalizePayload(ActionAssignTenantRole, json.RawMessage(`{"actor_id":1,"role":"CLERK"} {"actor_id":2}`))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Contains(t, ve.FieldErrors(), "payload")
}

func TestUnknownActionTypeHasNoSchema(t *testing.T) {
	_, _, err := normalizePayload("DROP_TENANT", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownActionType)
}
