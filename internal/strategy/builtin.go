package strategy

func f(v float64) *float64 { return &v }

// Builtin 返回内置策略集，在目录文件缺失或远端目录不可用时兜底。
// 引擎端以同名 id 识别这些策略。
func Builtin() []Definition {
	return []Definition{
		{
			ID:             "mean_reversion",
			Name:           "Mean Reversion",
			Category:       "statistical",
			DefaultTickers: []string{"SPY", "QQQ"},
			Parameters: []ParameterSpec{
				{Name: "bb_period", Kind: KindNumeric, Default: 20, Min: f(5), Max: f(100), Step: f(1)},
				{Name: "bb_std", Kind: KindNumeric, Default: 2.0, Min: f(0.5), Max: f(4), Step: f(0.1)},
				{Name: "rsi_period", Kind: KindNumeric, Default: 14, Min: f(2), Max: f(50), Step: f(1)},
			},
		},
		{
			ID:             "momentum",
			Name:           "Cross-Sectional Momentum",
			Category:       "momentum",
			DefaultTickers: []string{"SPY", "IWM", "EFA", "EEM"},
			Parameters: []ParameterSpec{
				{Name: "lookback_days", Kind: KindNumeric, Default: 90, Min: f(20), Max: f(365), Step: f(1)},
				{Name: "top_n", Kind: KindNumeric, Default: 10, Min: f(1), Max: f(50), Step: f(1)},
				{Name: "rebalance", Kind: KindChoice, Default: "weekly", Choices: []string{"daily", "weekly", "monthly"}},
				{Name: "volume_filter", Kind: KindBoolean, Default: false},
			},
		},
		{
			ID:             "trend_follow",
			Name:           "Trend Following",
			Category:       "trend",
			DefaultTickers: []string{"SPY"},
			Parameters: []ParameterSpec{
				{Name: "fast_ma", Kind: KindNumeric, Default: 10, Min: f(2), Max: f(100), Step: f(1)},
				{Name: "slow_ma", Kind: KindNumeric, Default: 50, Min: f(10), Max: f(400), Step: f(1)},
				{Name: "atr_period", Kind: KindNumeric, Default: 14, Min: f(2), Max: f(60), Step: f(1)},
				{Name: "atr_mult", Kind: KindNumeric, Default: 2.0, Min: f(0.5), Max: f(10), Step: f(0.5)},
			},
		},
	}
}
