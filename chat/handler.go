package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"tabula_back/access"
	"tabula_back/authorization"
	"tabula_back/cache"
	"tabula_back/catalog"
	"tabula_back/executor"
	"tabula_back/nl2sql"
	"tabula_back/storage"
)

// queryRunner 执行翻译得到的 SQL。抽象为接口便于替换与测试。
type queryRunner interface {
	Execute(ctx context.Context, target executor.Target, statement string) (executor.Result, error)
}

// Module 聚合聊天问答管线的依赖：目录存储、翻译器、执行器、历史与缓存。
type Module struct {
	catalog    *catalog.Store
	history    *HistoryStore
	cache      *historyCache
	translator nl2sql.Translator
	runner     queryRunner
	charts     *storage.ChartStorage
}

// RegisterRoutes 装配聊天模块并挂载路由。翻译器、图表存储与 Redis 均为可选
// 依赖：缺失时模块降级运行而非拒绝启动。
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, catalogModule *catalog.Module) (*Module, error) {
	if router == nil {
		return nil, errors.New("chat: router is required")
	}
	if guard == nil {
		return nil, errors.New("chat: authorization guard is required")
	}
	if catalogModule == nil {
		return nil, errors.New("chat: catalog module is required")
	}

	db, err := catalog.OpenDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	history := NewHistoryStore(db)
	if err := history.Migrate(); err != nil {
		return nil, err
	}

	translator, err := nl2sql.NewOpenAITranslatorFromEnv()
	if err != nil {
		log.Printf("chat: translator unavailable: %v", err)
	}

	charts, err := storage.NewChartStorageFromEnv()
	if err != nil {
		log.Printf("chat: chart storage unavailable: %v", err)
	}

	var historyCacheClient *historyCache
	if client, err := cache.GetRedisClient(); err != nil {
		log.Printf("chat: redis unavailable, recent history cache disabled: %v", err)
	} else {
		historyCacheClient = newHistoryCache(client)
	}

	module := &Module{
		catalog:    catalogModule.Store(),
		history:    history,
		cache:      historyCacheClient,
		runner:     executor.New(),
		charts:     charts,
	}
	if translator != nil {
		module.translator = translator
	}

	group := router.Group("/chat")
	group.Use(guard.RequireAuthenticated())
	group.GET("/:kbID/history", module.handleHistory)
	group.POST("/:kbID", module.handleChat)

	return module, nil
}

type chatRequest struct {
	Prompt     string `json:"prompt" binding:"required"`
	OutputType string `json:"output_type"`
	ChartType  string `json:"chart_type"`
}

// handleHistory 返回当前用户在该知识库下的全部对话记录。
// @Summary 查询聊天历史
// @Tags chat
func (m *Module) handleHistory(c *gin.Context) {
	actor, kb, ok := m.resolveKnowledgeBase(c)
	if !ok {
		return
	}

	entries, err := m.history.List(c.Request.Context(), actor.UserID, kb.ID)
	if err != nil {
		log.Printf("chat: list history for user %d kb %d failed: %v", actor.UserID, kb.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load chat history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "history": entries})
}

// handleChat 执行一轮问答：渲染 schema、回放近期历史、翻译为 SQL、
// 对目标库执行并按请求的输出形态返回。
// @Summary 知识库问答
// @Tags chat
func (m *Module) handleChat(c *gin.Context) {
	actor, kb, ok := m.resolveKnowledgeBase(c)
	if !ok {
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "prompt is required"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "prompt is required"})
		return
	}

	if m.translator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "language model is not configured"})
		return
	}

	ctx := c.Request.Context()

	conn, err := m.catalog.GetConnection(ctx, kb.ConnectionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "connection not found"})
			return
		}
		log.Printf("chat: load connection %d failed: %v", kb.ConnectionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load connection"})
		return
	}

	recent := m.recentEntries(ctx, actor.UserID, kb.ID)

	statement, err := m.translator.Translate(ctx, nl2sql.Request{
		Prompt:  prompt,
		Schema:  catalog.RenderSchema(kb),
		History: nl2sql.BoundHistory(historyTurns(recent)),
		Dialect: conn.Driver,
	})
	if err != nil {
		m.respondTranslateError(c, err)
		return
	}

	credentials, err := m.catalog.DecryptCredentials(conn)
	if err != nil {
		log.Printf("chat: unseal credentials for connection %d failed: %v", conn.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "connection credentials are unreadable"})
		return
	}

	result, err := m.runner.Execute(ctx, executor.Target{
		Driver:   credentials.Driver,
		Host:     credentials.Host,
		User:     credentials.User,
		Password: credentials.Password,
		Database: kb.DatabaseName,
	}, statement)
	if err != nil {
		m.respondExecuteError(c, err)
		return
	}

	shaped := executor.Shape(ctx, result, req.OutputType, req.ChartType, m.charts)

	m.recordTurns(ctx, actor.UserID, kb.ID, prompt, statement, shaped)

	response := gin.H{
		"status": "success",
		"type":   shaped.Type,
		"sql":    statement,
	}
	if shaped.Message != "" {
		response["message"] = shaped.Message
	}
	if shaped.Columns != nil {
		response["columns"] = shaped.Columns
	}
	if shaped.Results != nil {
		response["results"] = shaped.Results
	}
	if shaped.ChartType != "" {
		response["chart_type"] = shaped.ChartType
	}
	if shaped.ChartURL != "" {
		response["chart_url"] = shaped.ChartURL
	}
	c.JSON(http.StatusOK, response)
}

// resolveKnowledgeBase 解析路径中的知识库并校验当前用户的问答权限。
func (m *Module) resolveKnowledgeBase(c *gin.Context) (access.Actor, *catalog.KnowledgeBase, bool) {
	actor, ok := authorization.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "authentication required"})
		return access.Actor{}, nil, false
	}

	kbID, err := strconv.ParseUint(strings.TrimSpace(c.Param("kbID")), 10, 64)
	if err != nil || kbID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid knowledge base id"})
		return access.Actor{}, nil, false
	}

	kb, err := m.catalog.GetKnowledgeBase(c.Request.Context(), kbID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "knowledge base not found"})
			return access.Actor{}, nil, false
		}
		log.Printf("chat: load knowledge base %d failed: %v", kbID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load knowledge base"})
		return access.Actor{}, nil, false
	}

	if !kb.Active {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "knowledge base is inactive"})
		return access.Actor{}, nil, false
	}

	hasGrant, err := m.catalog.HasActiveKnowledgeBaseGrant(c.Request.Context(), actor.UserID, kb.ID)
	if err != nil {
		log.Printf("chat: check grant for user %d kb %d failed: %v", actor.UserID, kb.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to check access"})
		return access.Actor{}, nil, false
	}
	if !actor.CanChat(kb.CompanyKey, hasGrant) {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "you do not have access to this knowledge base"})
		return access.Actor{}, nil, false
	}

	return actor, kb, true
}

// recentEntries 读取回放窗口，优先走缓存，未命中时回源数据库并回填。
func (m *Module) recentEntries(ctx context.Context, userID, kbID uint64) []ChatEntry {
	if cached, err := m.cache.get(ctx, kbID, userID); err == nil {
		return cached
	}

	entries, err := m.history.Recent(ctx, userID, kbID, nl2sql.HistoryWindow)
	if err != nil {
		log.Printf("chat: load recent history for user %d kb %d failed: %v", userID, kbID, err)
		return nil
	}
	m.cache.store(ctx, kbID, userID, entries)
	return entries
}

// recordTurns 持久化本轮问答并作废缓存窗口。助手侧同时存一份成形结果，
// 供历史接口原样回放。写入失败只记录日志，不影响已经产出的应答。
func (m *Module) recordTurns(ctx context.Context, userID, kbID uint64, prompt, statement string, shaped executor.Shaped) {
	userEntry := &ChatEntry{UserID: userID, KnowledgeBaseID: kbID, Role: RoleUser, Content: prompt}
	if err := m.history.Append(ctx, userEntry); err != nil {
		log.Printf("chat: persist user turn failed: %v", err)
	}

	assistantEntry := &ChatEntry{UserID: userID, KnowledgeBaseID: kbID, Role: RoleAssistant, Content: statement, OutputType: shaped.Type}
	if payload, err := json.Marshal(shaped); err != nil {
		log.Printf("chat: marshal shaped payload failed: %v", err)
	} else {
		assistantEntry.Payload = datatypes.JSON(payload)
	}
	if err := m.history.Append(ctx, assistantEntry); err != nil {
		log.Printf("chat: persist assistant turn failed: %v", err)
	}
	m.cache.invalidate(ctx, kbID, userID)
}

// respondTranslateError 将翻译器的错误分类映射为响应。NoQuery 与 Upstream
// 分开返回，前端可据此提示用户换个问法。
func (m *Module) respondTranslateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, nl2sql.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "language model is not configured"})
	case errors.Is(err, nl2sql.ErrInvalidCredential):
		log.Printf("chat: language model rejected credential: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": "language model rejected the configured credential"})
	case errors.Is(err, nl2sql.ErrEmptySchema):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "knowledge base has no schema description"})
	case errors.Is(err, nl2sql.ErrNoQuery):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "message": "no SQL query could be produced for this prompt; please rephrase"})
	case errors.Is(err, nl2sql.ErrUpstream):
		log.Printf("chat: language model request failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": "language model request failed"})
	default:
		log.Printf("chat: translate failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to translate the prompt"})
	}
}

// respondExecuteError 区分连接失败与查询失败。查询失败附带目标库的报错，
// 连接与内部细节一律不外泄。
func (m *Module) respondExecuteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, executor.ErrConnection):
		log.Printf("chat: target database unreachable: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": "could not connect to the target database"})
	case errors.Is(err, executor.ErrQuery):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		log.Printf("chat: execute failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to execute the query"})
	}
}
