package auth_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	t.Run("uuid", func(t *testing.T) {
		id := uuid.New()
		got, err := auth.ParseUserID(" " + id.String() + " ")
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("external subject", func(t *testing.T) {
		_, err := auth.ParseUserID("auth0|1234567890")
		assert.True(t, auth.HasTextCode(err, "INVALID_USER_ID"))
	})

	t.Run("nil uuid", func(t *testing.T) {
		_, err := auth.ParseUserID(uuid.Nil.String())
		assert.Error(t, err)
	})
}
