package entities

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestTenantSettingsStoresDisabledReplies(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse(&TenantSettings{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	field := s.LookUpField("RepliesEnabled")
	require.NotNil(t, field)
	assert.False(t, field.HasDefaultValue, "a false value must reach the insert")
	assert.True(t, field.NotNull)
}
