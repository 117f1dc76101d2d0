package config

import (
	"errors"
	"fmt"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
)

// Thresholds converts the advice section into pipeline thresholds, filling
// unset values from the defaults.
func (c Config) Thresholds() pipeline.AdviceThresholds {
	th := pipeline.DefaultAdviceThresholds()
	if c.Advice.LowExecSpeed > 0 {
		th.LowExecSpeed = c.Advice.LowExecSpeed
	}
	if c.Advice.EarlyWindowMinSec > 0 {
		th.EarlyWindowMinSec = c.Advice.EarlyWindowMinSec
	}
	if c.Advice.EarlyWindowMaxSec > 0 {
		th.EarlyWindowMaxSec = c.Advice.EarlyWindowMaxSec
	}
	if c.Advice.NoFindsSec > 0 {
		th.NoFindsSec = c.Advice.NoFindsSec
	}
	return th
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	th := c.Thresholds()
	if th.EarlyWindowMinSec >= th.EarlyWindowMaxSec {
		errs = append(errs, fmt.Errorf("advice: early_window_min_sec (%d) must be below early_window_max_sec (%d)",
			th.EarlyWindowMinSec, th.EarlyWindowMaxSec))
	}
	if c.TUI.RefreshIntervalSec < 0 {
		errs = append(errs, errors.New("tui: refresh_interval_sec must not be negative"))
	}
	if c.Daemon.IntervalSec < 0 {
		errs = append(errs, errors.New("daemon: interval_sec must not be negative"))
	}
	return errors.Join(errs...)
}
