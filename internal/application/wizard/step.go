package wizard

import (
	"fmt"

	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/pkg/errors"
)

// StepName 步骤名
type StepName string

const (
	StepMethodSelection StepName = "METHOD_SELECTION"
	StepConfiguring     StepName = "CONFIGURING"
	StepGenerating      StepName = "GENERATING"
	StepAddingQuestions StepName = "ADDING_QUESTIONS"
	StepComplete        StepName = "COMPLETE"
)

// Step 向导步骤。只有本包内的类型实现它，消费方用类型分支穷举处理。
type Step interface {
	Name() StepName
	isStep()
}

// MethodSelection 选择创建方式
type MethodSelection struct{}

// Configuring 填写草稿与生成配置
type Configuring struct {
	Method entity.CreationMethod
	// FieldErrors 本地字段校验失败，键为字段路径
	FieldErrors map[string]string
	// Error 提交失败的分类错误（余额不足单独展示）
	Error *errors.ClassifiedError
	// JobFailure 任务失败时服务端给出的原文
	JobFailure string
}

// Generating 等待生成任务完成
type Generating struct {
	Job      *entity.GenerationJob
	Estimate *entity.TokenEstimate
	// Warning 最近一次轮询失败，下次成功后清除
	Warning *errors.ClassifiedError
	// Overdue 已超过软截止时间
	Overdue bool
}

// AddingQuestions 手动创建后录入题目
type AddingQuestions struct {
	QuizID string
}

// Complete 结束
type Complete struct {
	QuizID string
	Method entity.CreationMethod
}

func (MethodSelection) Name() StepName { return StepMethodSelection }
func (Configuring) Name() StepName     { return StepConfiguring }
func (Generating) Name() StepName      { return StepGenerating }
func (AddingQuestions) Name() StepName { return StepAddingQuestions }
func (Complete) Name() StepName        { return StepComplete }

func (MethodSelection) isStep() {}
func (Configuring) isStep()     {}
func (Generating) isStep()      {}
func (AddingQuestions) isStep() {}
func (Complete) isStep()        {}

// cloneStep 返回不与控制器共享可变字段的副本
func cloneStep(s Step) Step {
	switch st := s.(type) {
	case MethodSelection:
		return st
	case Configuring:
		if st.FieldErrors != nil {
			fields := make(map[string]string, len(st.FieldErrors))
			for k, v := range st.FieldErrors {
				fields[k] = v
			}
			st.FieldErrors = fields
		}
		return st
	case Generating:
		st.Job = st.Job.Clone()
		return st
	case AddingQuestions:
		return st
	case Complete:
		return st
	default:
		panic(fmt.Sprintf("wizard: unhandled step %T", s))
	}
}
