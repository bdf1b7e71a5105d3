// Package validator 提供基于 go-playground/validator 的字段校验与英文错误翻译
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"quiz-wizard-api/internal/domain/entity"
)

// 自定义校验标签
const (
	tagTimerDuration = "timer_duration"
	tagMinQuestions  = "min_questions"
)

// Validator 带翻译器的校验器
type Validator struct {
	validate *govalidator.Validate
	trans    ut.Translator
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// Default 返回进程级单例
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultValidator = New()
	})
	return defaultValidator
}

// New 创建校验器并注册领域规则
func New() *Validator {
	v := govalidator.New(govalidator.WithRequiredStructEnabled())
	trans := configure(v)
	registerDomainRules(v, trans)
	return &Validator{validate: v, trans: trans}
}

// configure 使用 JSON 字段名并注册英文翻译
func configure(v *govalidator.Validate) ut.Translator {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name[:1]) + fld.Name[1:]
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
	return trans
}

func registerDomainRules(v *govalidator.Validate, trans ut.Translator) {
	v.RegisterStructValidation(func(sl govalidator.StructLevel) {
		d := sl.Current().Interface().(entity.QuizDraft)
		if d.Timer.Enabled && (d.Timer.DurationMinutes < entity.MinutesMin || d.Timer.DurationMinutes > entity.MinutesMax) {
			sl.ReportError(d.Timer.DurationMinutes, "timer.durationMinutes", "DurationMinutes", tagTimerDuration, "")
		}
	}, entity.QuizDraft{})

	v.RegisterStructValidation(func(sl govalidator.StructLevel) {
		c := sl.Current().Interface().(entity.TextGenerationConfig)
		if !c.QuestionCounts.HasAny() {
			sl.ReportError(c.QuestionCounts, "questionsPerType", "QuestionCounts", tagMinQuestions, "")
		}
	}, entity.TextGenerationConfig{})

	v.RegisterStructValidation(func(sl govalidator.StructLevel) {
		c := sl.Current().Interface().(entity.DocumentGenerationConfig)
		if !c.QuestionCounts.HasAny() {
			sl.ReportError(c.QuestionCounts, "questionsPerType", "QuestionCounts", tagMinQuestions, "")
		}
	}, entity.DocumentGenerationConfig{})

	registerMessage(v, trans, tagTimerDuration, "timer duration must be between 1 and 180 minutes when the timer is enabled")
	registerMessage(v, trans, tagMinQuestions, "select at least one question")
}

func registerMessage(v *govalidator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		},
		func(ut ut.Translator, fe govalidator.FieldError) string {
			msg, err := ut.T(tag)
			if err != nil {
				return text
			}
			return msg
		},
	)
}

// Struct 校验结构体，成功返回 nil，失败返回 字段路径 -> 英文提示
func (v *Validator) Struct(s interface{}) map[string]string {
	if err := v.validate.Struct(s); err != nil {
		return v.TranslateErrors(err)
	}
	return nil
}

// TranslateErrors 将校验错误转为 字段路径 -> 提示；非校验错误归入 "detail"
func (v *Validator) TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe.Namespace())] = fe.Translate(v.trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// fieldPath 去掉命名空间中的根结构体名：QuizDraft.timer.durationMinutes -> timer.durationMinutes
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// ginValidator 包装 gin 绑定引擎，启动时由 SetupGin 设置
var ginValidator *Validator

// SetupGin 让 gin 的请求绑定使用同样的字段名与翻译，启动时调用一次
func SetupGin() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		ginValidator = &Validator{validate: v, trans: configure(v)}
	}
}

// BindingErrors 翻译 gin 绑定错误
func BindingErrors(err error) map[string]string {
	if ginValidator == nil {
		return Default().TranslateErrors(err)
	}
	return ginValidator.TranslateErrors(err)
}
