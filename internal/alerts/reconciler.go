package alerts

import (
	"context"
	"errors"

	"wenmoon/internal/auth"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"
	"wenmoon/internal/settings"

	"go.uber.org/zap"
)

// Reconciler merges remote alert state into a coin list. The registry is
// the source of truth: every sync replaces local alert lists outright
// instead of diffing, which cannot drift and is cheap at roster sizes of
// tens of coins.
type Reconciler struct {
	registry Registry
	auth     auth.Provider
	settings settings.Store
}

// NewReconciler wires a reconciler to its collaborators.
func NewReconciler(registry Registry, authProvider auth.Provider, store settings.Store) *Reconciler {
	return &Reconciler{
		registry: registry,
		auth:     authProvider,
		settings: store,
	}
}

// Sync returns the coins with their alert lists replaced by the registry's
// state. Without a signed-in user, a device token or any coins, the remote
// is not called and every alert list comes back empty: no authenticated
// session means no alerts apply.
func (r *Reconciler) Sync(ctx context.Context, coins []models.Coin) ([]models.Coin, error) {
	userID, err := r.auth.CurrentUserID(ctx)
	deviceToken := r.deviceToken(ctx)

	if errors.Is(err, auth.ErrNotSignedIn) || deviceToken == "" || len(coins) == 0 {
		logger.Log.Debug("Skipping alert sync, clearing local alert state",
			zap.Bool("signed_in", err == nil),
			zap.Bool("has_device_token", deviceToken != ""),
			zap.Int("coins", len(coins)),
		)
		cleared := make([]models.Coin, len(coins))
		for i, coin := range coins {
			coin.PriceAlerts = nil
			cleared[i] = coin
		}
		return cleared, nil
	}
	if err != nil {
		return nil, err
	}

	remoteAlerts, err := r.registry.GetAlerts(ctx, userID, deviceToken)
	if err != nil {
		return nil, err
	}

	synced := make([]models.Coin, len(coins))
	for i, coin := range coins {
		var matching []models.PriceAlert
		for _, alert := range remoteAlerts {
			if r.registry.Matches(alert, coin.ID) {
				matching = append(matching, alert)
			}
		}
		coin.PriceAlerts = matching
		synced[i] = coin
	}
	return synced, nil
}

// SetAlert registers or deletes the coin's target-price alert. A non-nil
// target registers remotely and arms the coin on success; any remote
// failure disarms it. A nil target requests remote deletion and disarms
// the coin on success.
func (r *Reconciler) SetAlert(ctx context.Context, coin models.Coin, targetPrice *float64) (models.Coin, error) {
	deviceToken := r.deviceToken(ctx)
	if deviceToken == "" {
		logger.Log.Warn("No device token, skipping alert registration",
			zap.String("coin_id", coin.ID),
		)
		return coin, nil
	}

	if targetPrice != nil {
		if _, err := r.registry.SetAlert(ctx, *targetPrice, coin, deviceToken); err != nil {
			coin.TargetPrice = nil
			coin.IsActive = false
			return coin, err
		}
		coin.TargetPrice = targetPrice
		coin.IsActive = true
		return coin, nil
	}

	if _, err := r.registry.DeleteAlert(ctx, coin.ID, deviceToken); err != nil {
		return coin, err
	}
	coin.TargetPrice = nil
	coin.IsActive = false
	return coin, nil
}

func (r *Reconciler) deviceToken(ctx context.Context) string {
	var token string
	ok, err := r.settings.Get(ctx, settings.KeyDeviceToken, &token)
	if err != nil {
		logger.Log.Warn("Failed to read cached device token", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return token
}
