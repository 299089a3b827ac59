package firebase

import (
	"context"
	"testing"

	"notification_hub_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFirebaseService_DisabledWithoutKeyPath(t *testing.T) {
	svc, err := NewFirebaseService(&config.Config{}, zap.NewNop())

	require.NoError(t, err)
	assert.Nil(t, svc)
}

func TestVerifyIDToken_EmptyToken(t *testing.T) {
	svc := &FirebaseService{logger: zap.NewNop()}

	_, err := svc.VerifyIDToken(context.Background(), "")

	assert.EqualError(t, err, "ID token must not be empty")
}
