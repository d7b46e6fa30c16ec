package builder

import "errors"

// 构建期可预期的输入错误，全部以哨兵错误返回，不走 panic。
var (
	ErrUnknownStrategy          = errors.New("unknown strategy")
	ErrUnknownParameter         = errors.New("unknown parameter")
	ErrInvalidParameterValue    = errors.New("invalid parameter value")
	ErrInvalidWalkForwardConfig = errors.New("invalid walk-forward config")
	ErrMissingStrategy          = errors.New("no strategy selected")
	ErrEmptyTickerSet           = errors.New("ticker set is empty")
	ErrInvalidCapital           = errors.New("initial capital must be positive")
	ErrInvalidDateRange         = errors.New("start date is after end date")
)
