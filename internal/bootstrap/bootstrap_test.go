package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/sending"
	"github.com/ignite/drip-engine/internal/service/drip"
)

func TestNew_InMemoryWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.App.UnsubscribeSecret = "secret"
	cfg.Redis.URL = "redis://" + mr.Addr()

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.DB)
	require.NotNil(t, app.Redis)
	assert.IsType(t, &sending.LogSender{}, app.Sender)

	ctx := context.Background()
	_, err = app.Suppression.UnsubscribeByEmail(ctx, "gone@example.com", "")
	require.NoError(t, err)
	res, err := app.Suppression.CheckSuppression(ctx, "gone@example.com")
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.NotEmpty(t, mr.Keys())

	c, err := app.Drip.CreateCampaign(ctx, drip.CreateCampaignInput{StoreID: "s", Name: "n", TriggerType: "manual"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "ping redis")
}
