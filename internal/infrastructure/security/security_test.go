package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPseudonymizeIDIsDeterministic(t *testing.T) {
	a := PseudonymizeID("ext-client-1", "salt")
	b := PseudonymizeID("ext-client-1", "salt")
	assert.Equal(t, a, b, "same client must map to the same row key across pings")
	assert.Len(t, a, 64)
}

func TestPseudonymizeIDDependsOnSalt(t *testing.T) {
	assert.NotEqual(t,
		PseudonymizeID("ext-client-1", "salt-a"),
		PseudonymizeID("ext-client-1", "salt-b"),
		"without the deployment salt the mapping cannot be recomputed")
}

func TestPseudonymizeIDSeparatesClients(t *testing.T) {
	assert.NotEqual(t,
		PseudonymizeID("ext-client-1", "salt"),
		PseudonymizeID("ext-client-2", "salt"))
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, err := GenerateAdminToken("jwt-secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims["role"])

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := GenerateAdminToken("jwt-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "jwt-secret")
	assert.Error(t, err)
}

func TestGenerateSecureKeyLengthAndUniqueness(t *testing.T) {
	a, err := GenerateSecureKey(64)
	require.NoError(t, err)
	b, err := GenerateSecureKey(64)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
