package fees

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/nftauction/pkg/fixedpoint"
)

func pct(s string) decimal.Decimal {
	p, err := fixedpoint.PercentFromFraction(s)
	if err != nil {
		panic(err)
	}
	return p
}

func newPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New("owner", pct("0.025"), "treasury", pct("0.10"))
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("should expose initial config", func(t *testing.T) {
		p := newPolicy(t)
		cfg := p.Config()

		assert.Equal(t, VersionFlat, cfg.Version)
		assert.True(t, cfg.Percent.Equal(pct("0.025")))
		assert.Equal(t, "treasury", cfg.Recipient)
		assert.Equal(t, "owner", p.Owner())
	})

	t.Run("should reject an initial fee above the cap", func(t *testing.T) {
		_, err := New("owner", pct("0.15"), "treasury", pct("0.10"))
		assert.ErrorIs(t, err, ErrFeeTooHigh)
	})

	t.Run("should reject a cap above 100%", func(t *testing.T) {
		_, err := New("owner", pct("0.01"), "treasury", pct("1.5"))
		assert.ErrorIs(t, err, ErrInvalidFee)
	})
}

func TestSetFee(t *testing.T) {
	t.Run("should update percent and recipient", func(t *testing.T) {
		p := newPolicy(t)

		cfg, err := p.SetFee("owner", pct("0.05"), "buyer1")
		require.NoError(t, err)

		assert.True(t, cfg.Percent.Equal(pct("0.05")))
		assert.Equal(t, "buyer1", p.Config().Recipient)
	})

	t.Run("should reject fee above cap and keep config", func(t *testing.T) {
		p := newPolicy(t)

		_, err := p.SetFee("owner", pct("0.11"), "someone-else")
		assert.ErrorIs(t, err, ErrFeeTooHigh)

		cfg := p.Config()
		assert.True(t, cfg.Percent.Equal(pct("0.025")))
		assert.Equal(t, "treasury", cfg.Recipient)
	})

	t.Run("should accept exactly the cap", func(t *testing.T) {
		p := newPolicy(t)
		_, err := p.SetFee("owner", pct("0.10"), "treasury")
		assert.NoError(t, err)
	})

	t.Run("should reject non-owners", func(t *testing.T) {
		p := newPolicy(t)
		_, err := p.SetFee("mallory", pct("0.01"), "mallory")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("should reject empty recipient and negative percent", func(t *testing.T) {
		p := newPolicy(t)
		_, err := p.SetFee("owner", pct("0.01"), "")
		assert.ErrorIs(t, err, ErrInvalidRecipient)

		_, err = p.SetFee("owner", decimal.NewFromInt(-1), "treasury")
		assert.ErrorIs(t, err, ErrInvalidFee)
	})

	t.Run("should never expose a half-applied update", func(t *testing.T) {
		p := newPolicy(t)
		pairs := map[string]string{"0.01": "a", "0.02": "b"}

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					p.SetFee("owner", pct("0.01"), "a")
				} else {
					p.SetFee("owner", pct("0.02"), "b")
				}
			}(i)
			go func() {
				defer wg.Done()
				cfg := p.Config()
				if cfg.Recipient == "treasury" {
					return
				}
				assert.Equal(t, pairs[fixedpoint.FractionFromPercent(cfg.Percent)], cfg.Recipient)
			}()
		}
		wg.Wait()
	})
}

func TestApply(t *testing.T) {
	t.Run("should split amount into fee and proceeds", func(t *testing.T) {
		p := newPolicy(t)
		q := p.Apply(fixedpoint.Ether("3"))

		assert.Equal(t, fixedpoint.Ether("0.075").String(), q.Fee.String())
		assert.Equal(t, fixedpoint.Ether("2.925").String(), q.Proceeds.String())
		assert.Equal(t, "treasury", q.Recipient)
	})

	t.Run("should truncate fee and credit remainder to seller", func(t *testing.T) {
		p := newPolicy(t)
		q := p.Apply(decimal.NewFromInt(99))

		assert.Equal(t, "2", q.Fee.String())
		assert.Equal(t, "97", q.Proceeds.String())
		assert.True(t, q.Fee.Add(q.Proceeds).Equal(decimal.NewFromInt(99)))
	})

	t.Run("should charge nothing at zero percent", func(t *testing.T) {
		p, err := New("owner", decimal.Zero, "treasury", pct("0.10"))
		require.NoError(t, err)

		q := p.Apply(decimal.NewFromInt(1000))
		assert.True(t, q.Fee.IsZero())
		assert.Equal(t, "1000", q.Proceeds.String())
	})
}

func TestMigrate(t *testing.T) {
	tiers := Tiers{
		MinPercent: pct("0.02"),
		MaxPercent: pct("0.03"),
		Threshold:  fixedpoint.Ether("5"),
		Step:       pct("0.001"),
	}

	t.Run("should switch to tiered fees", func(t *testing.T) {
		p := newPolicy(t)

		cfg, err := p.Migrate("owner", tiers)
		require.NoError(t, err)
		assert.Equal(t, VersionTiered, cfg.Version)

		assert.True(t, p.Config().PercentFor(fixedpoint.Ether("1")).Equal(pct("0.02")))
		assert.True(t, p.Config().PercentFor(fixedpoint.Ether("10")).Equal(pct("0.022")))
		assert.True(t, p.Config().PercentFor(fixedpoint.Ether("1000")).Equal(pct("0.03")))

		q := p.Apply(fixedpoint.Ether("10"))
		assert.Equal(t, fixedpoint.Ether("0.22").String(), q.Fee.String())
		assert.Equal(t, VersionTiered, q.Version)
	})

	t.Run("should migrate only once", func(t *testing.T) {
		p := newPolicy(t)
		_, err := p.Migrate("owner", tiers)
		require.NoError(t, err)

		_, err = p.Migrate("owner", tiers)
		assert.ErrorIs(t, err, ErrAlreadyMigrated)
	})

	t.Run("should reject tiers above cap", func(t *testing.T) {
		p := newPolicy(t)
		bad := tiers
		bad.MaxPercent = pct("0.2")

		_, err := p.Migrate("owner", bad)
		assert.ErrorIs(t, err, ErrFeeTooHigh)
		assert.Equal(t, VersionFlat, p.Config().Version)
	})

	t.Run("should reject non-owners", func(t *testing.T) {
		p := newPolicy(t)
		_, err := p.Migrate("mallory", tiers)
		assert.ErrorIs(t, err, ErrNotOwner)
	})
}
