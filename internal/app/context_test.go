package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plazos/internal/config"
	"plazos/internal/deadline"
	"plazos/internal/notify"
)

func TestOpenWithDefaults(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), ws, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "America/Lima", a.Config.Timezone)
	comp, err := a.Engine.ComputeDeadline(deadline.Input{Start: "2025-07-25", Country: "PE", Domain: "civil", Act: "apelacion"})
	require.NoError(t, err)
	require.Equal(t, "2025-08-13", comp.EndISO)

	res, err := a.Scheduler.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Checked)
}

func TestOpenRequiresConfigWhenAsked(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), Options{Logger: zap.NewNop(), RequireConfig: true})
	require.Error(t, err)
}

func TestCustomRulesetsFile(t *testing.T) {
	ws := t.TempDir()
	rulesets := `rulesets:
  XX.default:
    type: calendar
    quantity: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(ws, "rules.yml"), []byte(rulesets), 0o644))
	cfg := config.Default()
	cfg.Rulesets.File = "rules.yml"

	calc, err := NewCalculator(cfg, ws, zap.NewNop())
	require.NoError(t, err)
	comp, err := calc.Compute(deadline.Input{Start: "2025-06-02", Country: "XX"})
	require.NoError(t, err)
	require.Equal(t, "XX.default", comp.RulesetID)
	require.Equal(t, "2025-06-05", comp.EndISO)

	cfg.Rulesets.File = "missing.yml"
	_, err = NewCalculator(cfg, ws, zap.NewNop())
	require.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	cfg := config.Default()
	tr, err := NewTransport(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, notify.LogTransport{}, tr)

	cfg.Notify.Transport = "webhook"
	cfg.Notify.Webhook.URL = "http://127.0.0.1:1/hook"
	tr, err = NewTransport(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, notify.WebhookTransport{}, tr)

	cfg.Notify.Transport = "pigeon"
	_, err = NewTransport(cfg, zap.NewNop())
	require.Error(t, err)
}
