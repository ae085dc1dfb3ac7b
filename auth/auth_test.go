package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/coorderr"
)

func TestIssuer_Token_AuthenticatorAccepts(t *testing.T) {
	issuer, err := NewIssuer([]byte("super-secret"), "rhema-coordinator", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Token("ag_1")
	require.NoError(t, err)

	authenticator := NewAuthenticator([]byte("super-secret"), "rhema-coordinator", nil)
	require.NoError(t, authenticator.Authenticate(context.Background(), "ag_1", []byte(token)))
}

func TestAuthenticator_Authenticate_RejectsMismatchedAgentID(t *testing.T) {
	issuer, err := NewIssuer([]byte("super-secret"), "rhema-coordinator", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Token("ag_1")
	require.NoError(t, err)

	authenticator := NewAuthenticator([]byte("super-secret"), "rhema-coordinator", nil)
	err = authenticator.Authenticate(context.Background(), "ag_2", []byte(token))
	require.Error(t, err)
	assert.Equal(t, coorderr.CodeAccessDenied, coorderr.CodeOf(err))
}

func TestAuthenticator_Authenticate_RejectsWrongSecret(t *testing.T) {
	issuer, err := NewIssuer([]byte("super-secret"), "rhema-coordinator", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Token("ag_1")
	require.NoError(t, err)

	authenticator := NewAuthenticator([]byte("different-secret"), "rhema-coordinator", nil)
	err = authenticator.Authenticate(context.Background(), "ag_1", []byte(token))
	require.Error(t, err)
	assert.Equal(t, coorderr.CodeAccessDenied, coorderr.CodeOf(err))
}

func TestAuthenticator_Authenticate_RejectsExpiredToken(t *testing.T) {
	issuer, err := NewIssuer([]byte("super-secret"), "rhema-coordinator", -time.Hour)
	require.NoError(t, err)
	token, err := issuer.Token("ag_1")
	require.NoError(t, err)

	authenticator := NewAuthenticator([]byte("super-secret"), "rhema-coordinator", nil)
	err = authenticator.Authenticate(context.Background(), "ag_1", []byte(token))
	require.Error(t, err)
}

func TestAuthenticator_Authenticate_RejectsEmptyCredential(t *testing.T) {
	authenticator := NewAuthenticator([]byte("super-secret"), "rhema-coordinator", nil)
	err := authenticator.Authenticate(context.Background(), "ag_1", nil)
	require.Error(t, err)
	assert.Equal(t, coorderr.CodeAccessDenied, coorderr.CodeOf(err))
}

func TestNewIssuer_RejectsEmptySecret(t *testing.T) {
	_, err := NewIssuer(nil, "rhema-coordinator", time.Hour)
	require.Error(t, err)
}
