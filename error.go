package hl7bench

import "errors"

var (
	// ErrInvalidConfig 配置校验失败错误
	ErrInvalidConfig = errors.New("invalid config")

	// ErrMissingKey 记录缺少 MEDICAL_RECORD_NUMBER 错误
	ErrMissingKey = errors.New("missing medical record number")

	// ErrEmptyBatch 空批次错误
	ErrEmptyBatch = errors.New("empty batch")

	// ErrChildFailed 子进程非零退出错误
	ErrChildFailed = errors.New("child process failed")
)
