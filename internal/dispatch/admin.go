package dispatch

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/contract"
	"github.com/rwastockholm/custody-engine/internal/guard"
	"github.com/rwastockholm/custody-engine/internal/model"
)

// setExchangeRate updates the gold-to-OM conversion rate. Admin only.
func setExchangeRate(cfg *model.Config, env model.Env, rate decimal.Decimal) (model.Transition, error) {
	if err := guard.Require(env.Sender, cfg.Admin); err != nil {
		return model.Transition{}, err
	}
	if err := contract.ValidateAmount(rate, false); err != nil {
		return model.Transition{}, err
	}

	cfg.ExchangeRate = rate
	var t model.Transition
	t.Changes.PutConfig(*cfg)
	t.Attributes = []model.Attribute{
		model.Attr("action", "set_exchange_rate"),
		model.Attr("rate", rate.String()),
	}
	return t, nil
}

// setRewardRate updates the per-day staking reward. Admin only. A zero rate
// pauses accrual.
func setRewardRate(cfg *model.Config, env model.Env, rate decimal.Decimal) (model.Transition, error) {
	if err := guard.Require(env.Sender, cfg.Admin); err != nil {
		return model.Transition{}, err
	}
	if err := contract.ValidateAmount(rate, true); err != nil {
		return model.Transition{}, err
	}

	cfg.RewardRatePerDay = rate
	var t model.Transition
	t.Changes.PutConfig(*cfg)
	t.Attributes = []model.Attribute{
		model.Attr("action", "set_reward_rate"),
		model.Attr("rate", rate.String()),
	}
	return t, nil
}

// validateConfig checks an instantiate config.
func validateConfig(cfg model.Config) error {
	for name, v := range map[string]string{
		"admin":        cfg.Admin,
		"nft_contract": cfg.NFTContract,
		"reward_token": cfg.RewardToken,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s is required", model.ErrInvalidRequest, name)
		}
	}
	if err := contract.ValidateAmount(cfg.RewardRatePerDay, true); err != nil {
		return fmt.Errorf("reward_rate_per_day: %w", err)
	}
	if err := contract.ValidateAmount(cfg.ExchangeRate, true); err != nil {
		return fmt.Errorf("exchange_rate: %w", err)
	}
	return nil
}
