package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vesrates/internal/alerting"
	"vesrates/internal/rates"
)

// SimulateAlert sends a degraded-cycle notification for a made-up failure
// of exchange, to check the alert channel end to end.
func (a *App) SimulateAlert(ctx context.Context, exchange string, kind rates.ErrorKind) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := alerting.FromConfig(a.Config.Alerting, a.Logger)
	if _, ok := notifier.(alerting.Nop); ok {
		return errors.New("no alert channel configured")
	}

	code := rates.CanonicalExchange(exchange)
	note := alerting.Notification{
		Kind:      alerting.KindDegraded,
		Timestamp: time.Now().UTC(),
		Failures: []alerting.Failure{{
			Exchange:  code,
			ErrorKind: string(kind),
			Message:   fmt.Sprintf("simulated %s failure", kind),
		}},
		Message: "simulated alert",
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	a.Logger.Info().Str("exchange", code).Str("kind", string(kind)).Msg("simulated alert sent")
	return nil
}
