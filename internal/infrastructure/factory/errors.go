package factory

import "errors"

// ErrUnknownSource 数据源没有注册工厂
var ErrUnknownSource = errors.New("price feed not registered")
