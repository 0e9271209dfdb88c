package response

import "fmt"

// AppError 处理器层错误：业务码、文案键、本地化后的文案与原始错误
type AppError struct {
	Code    int
	Key     string
	Message string
	Err     error
}

// NewAppError 按文案键构造，Message 由调用方本地化后填入
func NewAppError(code int, key string, err error) *AppError {
	return &AppError{Code: code, Key: key, Err: err}
}

// WrapError 以已有文案包装原始错误
func WrapError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Localize 填充文案，返回自身便于链式调用
func (e *AppError) Localize(translate func(key string) string) *AppError {
	if e.Message == "" && e.Key != "" && translate != nil {
		e.Message = translate(e.Key)
	}
	return e
}

// ServerSide 是否属于服务端或上游故障
func (e *AppError) ServerSide() bool {
	return e.Code >= CodeInternal
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Key
	}
	if e.Err == nil {
		return fmt.Sprintf("[%d] %s", e.Code, msg)
	}
	return fmt.Sprintf("[%d] %s: %v", e.Code, msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}
