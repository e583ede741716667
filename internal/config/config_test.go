package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRefusesMisScaledFundingIntervalInLiveMode(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.LiveTrading = true
	cfg.FundingRateIntervalHours = 8
	cfg.MakerVenue.Name = "maker"
	cfg.HedgeVenue.Name = "hedge"
	cfg.MakerVenue.APIKey = "k"
	cfg.HedgeVenue.APIKey = "k"

	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidatePassesWithCorrectInterval(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.LiveTrading = true
	cfg.MakerVenue.Name = "maker"
	cfg.HedgeVenue.Name = "hedge"
	cfg.MakerVenue.APIKey = "k"
	cfg.HedgeVenue.APIKey = "k"
	cfg.MakerVenue.RESTBaseURL = "https://maker.example"
	cfg.HedgeVenue.RESTBaseURL = "https://hedge.example"

	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowsMisScaledIntervalInPaperMode(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.LiveTrading = false
	cfg.FundingRateIntervalHours = 8
	cfg.MakerVenue.Name = "maker"
	cfg.HedgeVenue.Name = "hedge"

	assert.NoError(t, cfg.Validate())
}
