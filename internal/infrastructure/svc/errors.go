package svc

import "errors"

// ErrNoUpstreamCodec 错误：没有注册对应交易所的行情编解码器
var ErrNoUpstreamCodec = errors.New("no feed codec registered for upstream exchange")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
