// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quiz-wizard-api/internal/application/session"
	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/interfaces/http/dto"
	"quiz-wizard-api/internal/validator"
	"quiz-wizard-api/pkg/errors"
	"quiz-wizard-api/pkg/logger"
)

// multipart 表单除文件外的余量
const uploadFormOverhead = 1 << 20

// SessionStore 向导会话存取
type SessionStore interface {
	Create(ctx context.Context) (*wizard.Controller, error)
	Get(id string) (*wizard.Controller, error)
	Delete(ctx context.Context, id string) error
}

// WizardHandler 测验创建向导处理器
type WizardHandler struct {
	sessions  SessionStore
	maxUpload int64
}

// NewWizardHandler 创建向导处理器
func NewWizardHandler(sessions SessionStore, cfg *config.BackendConfig) *WizardHandler {
	return &WizardHandler{
		sessions:  sessions,
		maxUpload: cfg.MaxUploadBytes,
	}
}

// CreateSession 创建向导会话
// @Summary 创建向导会话
// @Tags Wizard
// @Produce json
// @Success 201 {object} dto.Response[dto.SessionResponse]
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions [post]
func (h *WizardHandler) CreateSession(c *gin.Context) {
	ctrl, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	dto.Created(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// GetSession 获取会话当前状态
// @Summary 获取向导会话
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid} [get]
func (h *WizardHandler) GetSession(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// DeleteSession 放弃会话，生成中的任务会被取消
// @Summary 放弃向导会话
// @Tags Wizard
// @Param sid path string true "会话 ID"
// @Success 204
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid} [delete]
func (h *WizardHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), dto.BindSessionID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	dto.NoContent(c)
}

// SelectMethod 选择创建方式
// @Summary 选择创建方式
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "会话 ID"
// @Param body body dto.SelectMethodRequest true "创建方式"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/method [post]
func (h *WizardHandler) SelectMethod(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.SelectMethodRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := ctrl.SelectMethod(c.Request.Context(), req.Method); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// Back 返回方式选择
// @Summary 返回上一步
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/back [post]
func (h *WizardHandler) Back(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.Back(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// UpdateDraft 替换草稿
// @Summary 更新测验草稿
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "会话 ID"
// @Param body body entity.QuizDraft true "草稿"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/draft [put]
func (h *WizardHandler) UpdateDraft(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	draft := entity.NewQuizDraft()
	if !h.bindJSON(c, &draft) {
		return
	}
	if err := ctrl.SetDraft(draft); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// UpdateConfig 局部更新生成配置
// @Summary 更新生成配置
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "会话 ID"
// @Param body body dto.UpdateConfigRequest true "生成配置"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/config [put]
func (h *WizardHandler) UpdateConfig(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.UpdateConfigRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := applyConfig(ctrl, &req); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

func applyConfig(ctrl *wizard.Controller, req *dto.UpdateConfigRequest) error {
	if req.Difficulty != nil {
		if err := ctrl.SetDifficulty(*req.Difficulty); err != nil {
			return err
		}
	}
	if req.SourceText != nil {
		if err := ctrl.SetSourceText(*req.SourceText); err != nil {
			return err
		}
	}
	if req.Language != nil {
		if err := ctrl.SetLanguage(*req.Language); err != nil {
			return err
		}
	}
	if req.QuestionCounts != nil {
		for t := range req.QuestionCounts {
			if !t.Valid() {
				return errors.NewValidationError(map[string]string{
					"question_counts": "unknown question type " + string(t),
				})
			}
		}
		if err := ctrl.SetQuestionCounts(req.QuestionCounts); err != nil {
			return err
		}
	}
	if req.ChunkingStrategy != "" || req.MaxChunkSize != 0 {
		if err := ctrl.SetChunking(req.ChunkingStrategy, req.MaxChunkSize); err != nil {
			return err
		}
	}
	return nil
}

// SetQuestionCount 设置单个题型数量，返回截断后的值
// @Summary 设置题型数量
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "会话 ID"
// @Param type path string true "题型"
// @Param body body dto.SetQuestionCountRequest true "数量"
// @Success 200 {object} dto.Response[map[string]int]
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/config/questions/{type} [put]
func (h *WizardHandler) SetQuestionCount(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	qt, err := entity.ParseQuestionType(c.Param("type"))
	if err != nil {
		dto.UnprocessableEntity(c, "validation failed", &dto.ErrorDetail{
			ErrorCode: string(errors.KindValidation),
			Fields:    map[string]string{"type": err.Error()},
		})
		return
	}
	var req dto.SetQuestionCountRequest
	if !h.bindJSON(c, &req) {
		return
	}
	stored, err := ctrl.SetQuestionCount(qt, req.Count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, map[string]int{string(qt): stored})
}

// UploadDocument 上传源文档（multipart：file、pages、chunks、text_length）
// @Summary 上传源文档
// @Tags Wizard
// @Accept multipart/form-data
// @Produce json
// @Param sid path string true "会话 ID"
// @Param file formData file true "文档"
// @Param pages formData string false "页码，如 1-3,5"
// @Param chunks formData string false "分块序号，如 0,2"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/document [post]
func (h *WizardHandler) UploadDocument(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+uploadFormOverhead)
	}

	doc, fields := h.readDocument(c)
	if len(fields) > 0 {
		dto.UnprocessableEntity(c, "validation failed", &dto.ErrorDetail{
			ErrorCode: string(errors.KindValidation),
			Fields:    fields,
		})
		return
	}
	if err := ctrl.SetDocument(doc); err != nil {
		h.writeError(c, err)
		return
	}
	logger.Info(c.Request.Context(), "document attached",
		"session_id", ctrl.SessionID(),
		"file_name", doc.FileName,
		"size", doc.Size(),
	)
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

func (h *WizardHandler) readDocument(c *gin.Context) (*entity.SourceDocument, map[string]string) {
	fields := make(map[string]string)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			fields["file"] = fmt.Sprintf("document must not exceed %d bytes", h.maxUpload)
		} else {
			fields["file"] = "a document file is required"
		}
		return nil, fields
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		fields["file"] = fmt.Sprintf("document must not exceed %d bytes", h.maxUpload)
		return nil, fields
	}

	pages, err := entity.ParsePageRanges(c.PostForm("pages"))
	if err != nil {
		fields["pages"] = err.Error()
	}
	chunks, err := dto.ParseChunkIndices(c.PostForm("chunks"))
	if err != nil {
		fields["chunks"] = err.Error()
	}
	textLength := 0
	if raw := c.PostForm("text_length"); raw != "" {
		if textLength, err = strconv.Atoi(raw); err != nil || textLength < 0 {
			fields["text_length"] = "text_length must be a non-negative integer"
		}
	}
	if len(fields) > 0 {
		return nil, fields
	}

	f, err := header.Open()
	if err != nil {
		fields["file"] = "failed to read document"
		return nil, fields
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fields["file"] = "failed to read document"
		return nil, fields
	}

	return &entity.SourceDocument{
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Data:         data,
		PageRanges:   pages,
		ChunkIndices: chunks,
		TextLength:   textLength,
	}, nil
}

// GetEstimate 按当前配置估算 token
// @Summary 估算生成成本
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[entity.TokenEstimate]
// @Router /v1/wizard/sessions/{sid}/estimate [get]
func (h *WizardHandler) GetEstimate(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	dto.Success(c, ctrl.Estimate())
}

// Submit 提交：AI 方式返回 202 并开始跟踪任务，手动方式返回 201
// @Summary 提交向导
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 201 {object} dto.Response[dto.SessionResponse]
// @Success 202 {object} dto.Response[dto.SessionResponse]
// @Failure 402 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/submit [post]
func (h *WizardHandler) Submit(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.Submit(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}

	snap := ctrl.Snapshot()
	resp := dto.ToSessionResponse(snap)
	if _, manual := snap.Step.(wizard.AddingQuestions); manual {
		dto.Created(c, resp)
		return
	}
	dto.Accepted(c, resp)
}

// Cancel 取消生成并丢弃草稿
// @Summary 取消生成
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/cancel [post]
func (h *WizardHandler) Cancel(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.Cancel(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

// Finish 手动录题结束
// @Summary 完成手动创建
// @Tags Wizard
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/wizard/sessions/{sid}/finish [post]
func (h *WizardHandler) Finish(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.FinishAuthoring(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(ctrl.Snapshot()))
}

func (h *WizardHandler) session(c *gin.Context) (*wizard.Controller, bool) {
	ctrl, err := h.sessions.Get(dto.BindSessionID(c))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *WizardHandler) bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		dto.UnprocessableEntity(c, "invalid request body", &dto.ErrorDetail{
			ErrorCode: string(errors.KindValidation),
			Fields:    validator.BindingErrors(err),
		})
		return false
	}
	return true
}

// writeError 领域错误转 HTTP 响应
func (h *WizardHandler) writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	if ve, ok := errors.AsValidation(err); ok {
		dto.UnprocessableEntity(c, "validation failed", &dto.ErrorDetail{
			ErrorCode: string(errors.KindValidation),
			Fields:    ve.Fields,
		})
		return
	}

	switch {
	case stderrors.Is(err, session.ErrNotFound):
		dto.NotFound(c, err.Error())
		return
	case stderrors.Is(err, session.ErrTooManySessions):
		dto.ServiceUnavailable(c, err.Error())
		return
	case stderrors.Is(err, wizard.ErrInvalidStep), stderrors.Is(err, wizard.ErrBusy):
		dto.Conflict(c, err.Error())
		return
	}

	if errors.IsClassified(err) {
		ce := errors.AsClassified(err)
		status := ce.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		dto.ErrorWithDetail(c, status, ce.Message, &dto.ErrorDetail{
			ErrorCode:       string(ce.Kind),
			RequiredTokens:  ce.RequiredTokens,
			AvailableTokens: ce.AvailableTokens,
		})
		return
	}

	logger.Error(ctx, "unexpected wizard error", err, "path", c.FullPath())
	dto.InternalError(c, "internal server error")
}
