package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndParse(t *testing.T) {
	m := NewTokenManager("secret-secret-secret-secret-secret", time.Minute)
	userID := uuid.New()

	token, err := m.Issue(userID, RoleAdmin)
	require.NoError(t, err)

	gotID, role, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, RoleAdmin, role)

	other := NewTokenManager("another-secret", time.Minute)
	_, _, err = other.ParseAccess(token)
	assert.Error(t, err)
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("secret", -time.Minute)
	token, err := m.Issue(uuid.New(), "")
	require.NoError(t, err)

	_, _, err = m.ParseAccess(token)
	assert.Error(t, err)
}
