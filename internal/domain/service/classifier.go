package service

import (
	"quiz-wizard-api/pkg/errors"
)

// StatusError 带 HTTP 状态码与原始响应体的传输层失败。
// 说明：传输层只需实现该接口，分类器不依赖具体的 HTTP 实现。
type StatusError interface {
	error
	StatusCode() int
	ResponseBody() []byte
}

// ErrorClassifier 将原始失败转为带分类的错误。
// 约定：实现不得 panic，任何输入都要给出分类结果（nil 输入返回 nil）。
type ErrorClassifier interface {
	Classify(err error) *errors.ClassifiedError
}
