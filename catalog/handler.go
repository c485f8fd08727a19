package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tabula_back/access"
	"tabula_back/authorization"
	"tabula_back/executor"
	"tabula_back/vault"
)

// Module 聚合了元数据目录相关的存储与外部库探查依赖。
type Module struct {
	store    *Store
	executor *executor.Executor
}

// Store 返回模块内部的目录存储，供对话模块复用。
func (m *Module) Store() *Store {
	if m == nil {
		return nil
	}
	return m.store
}

// RegisterRoutes 初始化目录模块并注册分类、知识库、连接与授权路由。
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := OpenDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	v, err := vault.NewFromEnv()
	if err != nil {
		return nil, err
	}

	store := NewStore(db, v)
	if err := store.Migrate(); err != nil {
		return nil, err
	}

	module := &Module{store: store, executor: executor.New()}

	authed := router.Group("")
	if guard != nil {
		authed.Use(guard.RequireAuthenticated())
	} else {
		authed.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}

	categories := authed.Group("/categories")
	categories.POST("", module.handleCreateCategory)
	categories.GET("", module.handleListCategories)
	categories.GET("/:id", module.handleGetCategory)
	categories.PUT("/:id", module.handleUpdateCategory)
	categories.DELETE("/:id", module.handleDeleteCategory)

	kbs := authed.Group("/knowledge-bases")
	kbs.POST("", module.handleCreateKnowledgeBase)
	kbs.GET("", module.handleListKnowledgeBases)
	kbs.GET("/:id", module.handleGetKnowledgeBase)
	kbs.PUT("/:id", module.handleUpdateKnowledgeBase)
	kbs.DELETE("/:id", module.handleDeleteKnowledgeBase)
	kbs.PUT("/:id/tables", module.handleReplaceTables)
	kbs.DELETE("/:id/tables/:tableID", module.handleDeleteTableMap)
	kbs.DELETE("/:id/fields/:fieldID", module.handleDeleteField)
	kbs.POST("/:id/grants", guard.RequireRole(access.RoleTenantAdmin), module.handleGrantKnowledgeBase)
	kbs.DELETE("/:id/grants/:userID", guard.RequireRole(access.RoleTenantAdmin), module.handleRevokeKnowledgeBase)

	connections := authed.Group("/connections")
	connections.POST("", module.handleCreateConnection)
	connections.GET("", module.handleListConnections)
	connections.GET("/:id", module.handleGetConnection)
	connections.DELETE("/:id", module.handleDeleteConnection)
	connections.GET("/:id/tables", module.handleIntrospectTables)
	connections.GET("/:id/columns", module.handleIntrospectColumns)
	connections.POST("/:id/grants", guard.RequireRole(access.RoleTenantAdmin), module.handleGrantConnection)
	connections.DELETE("/:id/grants/:userID", guard.RequireRole(access.RoleTenantAdmin), module.handleRevokeConnection)

	return module, nil
}

// parseUintID 解析路径参数中的数字 ID。
func parseUintID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// respondStoreError 将存储层错误映射为 HTTP 状态码。内部错误细节只落日志，
// 不回传给调用方。
func respondStoreError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func currentActor(c *gin.Context) (access.Actor, bool) {
	actor, ok := authorization.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
	return actor, ok
}

type createCategoryRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	CompanyKey  string  `json:"company_key"`
}

type updateCategoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

// handleCreateCategory 创建知识库分类。分类归属租户：非平台管理员只能在
// 自己的租户下创建。
func (m *Module) handleCreateCategory(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req createCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	companyKey := strings.TrimSpace(req.CompanyKey)
	if actor.Role != access.RoleAdmin || companyKey == "" {
		companyKey = actor.CompanyKey
	}

	if !actor.CanManageCategory(companyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	category := &Category{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CompanyKey:  companyKey,
		Active:      true,
		CreatedBy:   actor.UserID,
	}
	if err := m.store.CreateCategory(c.Request.Context(), category); err != nil {
		respondStoreError(c, err, "failed to create category")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"category": category})
}

// handleListCategories 列出调用方可见的分类。平台管理员可用 company_key
// 查询任意租户。
func (m *Module) handleListCategories(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	companyKey := actor.CompanyKey
	if actor.Role == access.RoleAdmin {
		if key := strings.TrimSpace(c.Query("company_key")); key != "" {
			companyKey = key
		} else {
			companyKey = ""
		}
	}

	categories, err := m.store.ListCategories(c.Request.Context(), companyKey)
	if err != nil {
		respondStoreError(c, err, "failed to list categories")
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (m *Module) handleGetCategory(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	category, err := m.store.GetCategory(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "failed to load category")
		return
	}

	if actor.Role != access.RoleAdmin && !access.SameTenant(category.CompanyKey, actor.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"category": category})
}

func (m *Module) handleUpdateCategory(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	var req updateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	category, err := m.store.GetCategory(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load category")
		return
	}

	if !actor.CanManageCategory(category.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = req.Description
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	updated, err := m.store.UpdateCategory(ctx, id, updates)
	if err != nil {
		respondStoreError(c, err, "failed to update category")
		return
	}

	c.JSON(http.StatusOK, gin.H{"category": updated})
}

// handleDeleteCategory 删除分类。分类下的知识库保留但不再能通过列表路径
// 访问。
func (m *Module) handleDeleteCategory(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	ctx := c.Request.Context()
	category, err := m.store.GetCategory(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load category")
		return
	}

	if !actor.CanManageCategory(category.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.DeleteCategory(ctx, id); err != nil {
		respondStoreError(c, err, "failed to delete category")
		return
	}

	c.Status(http.StatusNoContent)
}

type createKnowledgeBaseRequest struct {
	CategoryID   uint64 `json:"category_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	ConnectionID uint64 `json:"connection_id" binding:"required"`
	DatabaseName string `json:"database_name" binding:"required"`
}

type updateKnowledgeBaseRequest struct {
	CategoryID   *uint64 `json:"category_id"`
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	ConnectionID *uint64 `json:"connection_id"`
	DatabaseName *string `json:"database_name"`
	Active       *bool   `json:"active"`
}

// handleCreateKnowledgeBase 创建知识库。租户键一律从所属分类继承，
// 普通成员需要持有目标连接的使用授权。
func (m *Module) handleCreateKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req createKnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	category, err := m.store.GetCategory(ctx, req.CategoryID)
	if err != nil {
		respondStoreError(c, err, "failed to load category")
		return
	}
	connection, err := m.store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return
	}

	hasGrant, err := m.store.HasConnectionGrant(ctx, actor.UserID, connection.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify connection grant"})
		return
	}
	if !actor.CanCreateKnowledgeBase(category.CompanyKey, connection.CompanyKey, hasGrant) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	kb := &KnowledgeBase{
		CategoryID:   category.ID,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		ConnectionID: connection.ID,
		DatabaseName: strings.TrimSpace(req.DatabaseName),
		Active:       true,
		CreatedBy:    actor.UserID,
	}
	if err := m.store.CreateKnowledgeBase(ctx, kb); err != nil {
		respondStoreError(c, err, "failed to create knowledge base")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"knowledge_base": kb})
}

func (m *Module) handleListKnowledgeBases(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	categoryID, err := parseUintID(c.Query("category_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category_id query parameter is required"})
		return
	}

	ctx := c.Request.Context()
	category, err := m.store.GetCategory(ctx, categoryID)
	if err != nil {
		respondStoreError(c, err, "failed to load category")
		return
	}

	if actor.Role == access.RoleMember {
		// 成员只能看到自己持有对话授权的知识库
		kbs, err := m.store.ListKnowledgeBases(ctx, categoryID)
		if err != nil {
			respondStoreError(c, err, "failed to list knowledge bases")
			return
		}
		visible := make([]KnowledgeBase, 0, len(kbs))
		for _, kb := range kbs {
			granted, err := m.store.HasActiveKnowledgeBaseGrant(ctx, actor.UserID, kb.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify grants"})
				return
			}
			if granted {
				visible = append(visible, kb)
			}
		}
		c.JSON(http.StatusOK, gin.H{"knowledge_bases": visible})
		return
	}

	if actor.Role == access.RoleTenantAdmin && !access.SameTenant(category.CompanyKey, actor.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	kbs, err := m.store.ListKnowledgeBases(ctx, categoryID)
	if err != nil {
		respondStoreError(c, err, "failed to list knowledge bases")
		return
	}

	c.JSON(http.StatusOK, gin.H{"knowledge_bases": kbs})
}

func (m *Module) handleGetKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	granted, err := m.store.HasActiveKnowledgeBaseGrant(ctx, actor.UserID, kb.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify grants"})
		return
	}
	if !actor.CanChat(kb.CompanyKey, granted) && !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"knowledge_base": kb})
}

// handleUpdateKnowledgeBase 更新知识库。移动分类时调用方必须同时对目标
// 分类所在租户拥有管理权。
func (m *Module) handleUpdateKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}

	var req updateKnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if req.CategoryID != nil && *req.CategoryID != kb.CategoryID {
		target, err := m.store.GetCategory(ctx, *req.CategoryID)
		if err != nil {
			respondStoreError(c, err, "failed to load target category")
			return
		}
		if !actor.CanAdministerKnowledgeBase(target.CompanyKey) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges for target category"})
			return
		}
	}

	updated, err := m.store.UpdateKnowledgeBase(ctx, id, KnowledgeBaseUpdate{
		CategoryID:   req.CategoryID,
		Name:         req.Name,
		Description:  req.Description,
		ConnectionID: req.ConnectionID,
		DatabaseName: req.DatabaseName,
		Active:       req.Active,
	})
	if err != nil {
		respondStoreError(c, err, "failed to update knowledge base")
		return
	}

	c.JSON(http.StatusOK, gin.H{"knowledge_base": updated})
}

func (m *Module) handleDeleteKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.DeleteKnowledgeBase(ctx, id); err != nil {
		respondStoreError(c, err, "failed to delete knowledge base")
		return
	}

	c.Status(http.StatusNoContent)
}

type replaceTablesRequest struct {
	Tables []TableInput `json:"tables"`
}

// handleReplaceTables 以全量替换方式提交知识库的表结构。请求体即期望的
// 最终状态，未出现的旧表和旧列会被删除。
func (m *Module) handleReplaceTables(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}

	var req replaceTablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.ReplaceTables(ctx, id, req.Tables); err != nil {
		respondStoreError(c, err, "failed to replace tables")
		return
	}

	updated, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to reload knowledge base")
		return
	}

	c.JSON(http.StatusOK, gin.H{"knowledge_base": updated})
}

func (m *Module) handleDeleteTableMap(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	kbID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}
	tableID, err := parseUintID(c.Param("tableID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid table id"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.DeleteTableMap(ctx, tableID); err != nil {
		respondStoreError(c, err, "failed to delete table")
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *Module) handleDeleteField(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	kbID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}
	fieldID, err := parseUintID(c.Param("fieldID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid field id"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.DeleteField(ctx, fieldID); err != nil {
		respondStoreError(c, err, "failed to delete field")
		return
	}

	c.Status(http.StatusNoContent)
}

type createConnectionRequest struct {
	Name      string   `json:"name" binding:"required"`
	Driver    string   `json:"driver"`
	Host      string   `json:"host" binding:"required"`
	User      string   `json:"user" binding:"required"`
	Password  string   `json:"password" binding:"required"`
	Databases []string `json:"databases"`
}

// handleCreateConnection 登记外部数据库连接。凭据在入库前加密，响应里
// 永远不含任何明文凭据。
func (m *Module) handleCreateConnection(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	if actor.Role < access.RoleTenantAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	connection, err := m.store.CreateConnection(c.Request.Context(), actor.CompanyKey, actor.UserID, ConnectionParams{
		Name:      req.Name,
		Driver:    req.Driver,
		Host:      req.Host,
		User:      req.User,
		Password:  req.Password,
		Databases: req.Databases,
	})
	if err != nil {
		respondStoreError(c, err, "failed to create connection")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"connection": connection})
}

func (m *Module) handleListConnections(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	companyKey := actor.CompanyKey
	if actor.Role == access.RoleAdmin {
		companyKey = strings.TrimSpace(c.Query("company_key"))
	}

	connections, err := m.store.ListConnections(ctx, companyKey)
	if err != nil {
		respondStoreError(c, err, "failed to list connections")
		return
	}

	if actor.Role == access.RoleMember {
		visible := make([]Connection, 0, len(connections))
		for _, conn := range connections {
			granted, err := m.store.HasConnectionGrant(ctx, actor.UserID, conn.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify grants"})
				return
			}
			if granted {
				visible = append(visible, conn)
			}
		}
		connections = visible
	}

	c.JSON(http.StatusOK, gin.H{"connections": connections})
}

func (m *Module) handleGetConnection(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	ctx := c.Request.Context()
	connection, err := m.store.GetConnection(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return
	}

	granted, err := m.store.HasConnectionGrant(ctx, actor.UserID, connection.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify grants"})
		return
	}
	if !actor.CanUseConnection(connection.CompanyKey, granted) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connection": connection})
}

func (m *Module) handleDeleteConnection(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	ctx := c.Request.Context()
	connection, err := m.store.GetConnection(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return
	}

	if !actor.CanManageCategory(connection.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.DeleteConnection(ctx, id); err != nil {
		respondStoreError(c, err, "failed to delete connection")
		return
	}

	c.Status(http.StatusNoContent)
}

// introspectionTarget 按需解密凭据并构造一次性的外部库目标。凭据只存在
// 于本次请求的栈上。
func (m *Module) introspectionTarget(c *gin.Context, actor access.Actor) (executor.Target, bool) {
	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return executor.Target{}, false
	}

	ctx := c.Request.Context()
	connection, err := m.store.GetConnection(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return executor.Target{}, false
	}

	granted, err := m.store.HasConnectionGrant(ctx, actor.UserID, connection.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify grants"})
		return executor.Target{}, false
	}
	if !actor.CanUseConnection(connection.CompanyKey, granted) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return executor.Target{}, false
	}

	database := strings.TrimSpace(c.Query("database"))
	if database == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "database query parameter is required"})
		return executor.Target{}, false
	}

	creds, err := m.store.DecryptCredentials(connection)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unseal connection credentials"})
		return executor.Target{}, false
	}

	return executor.Target{
		Driver:   creds.Driver,
		Host:     creds.Host,
		User:     creds.User,
		Password: creds.Password,
		Database: database,
	}, true
}

// handleIntrospectTables 列出外部数据库的真实表，帮助管理员对照登记的
// schema。
func (m *Module) handleIntrospectTables(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	target, ok := m.introspectionTarget(c, actor)
	if !ok {
		return
	}

	tables, err := m.executor.ListTables(c.Request.Context(), target)
	if err != nil {
		if errors.Is(err, executor.ErrConnection) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not connect to target database"})
		} else {
			c.JSON(http.StatusBadGateway, gin.H{"error": "target database rejected the request"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (m *Module) handleIntrospectColumns(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	target, ok := m.introspectionTarget(c, actor)
	if !ok {
		return
	}

	table := strings.TrimSpace(c.Query("table"))
	if table == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table query parameter is required"})
		return
	}

	columns, err := m.executor.ListColumns(c.Request.Context(), target, table)
	if err != nil {
		if errors.Is(err, executor.ErrConnection) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not connect to target database"})
		} else {
			c.JSON(http.StatusBadGateway, gin.H{"error": "target database rejected the request"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"columns": columns})
}

type grantRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func (m *Module) handleGrantConnection(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	connection, err := m.store.GetConnection(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return
	}

	if !actor.CanManageCategory(connection.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.GrantConnection(ctx, req.UserID, id); err != nil {
		respondStoreError(c, err, "failed to grant connection")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "connection granted"})
}

func (m *Module) handleRevokeConnection(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}
	userID, err := parseUintID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ctx := c.Request.Context()
	connection, err := m.store.GetConnection(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load connection")
		return
	}

	if !actor.CanManageCategory(connection.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.RevokeConnection(ctx, userID, id); err != nil {
		respondStoreError(c, err, "failed to revoke connection")
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *Module) handleGrantKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.GrantKnowledgeBase(ctx, req.UserID, id, actor.UserID); err != nil {
		respondStoreError(c, err, "failed to grant knowledge base")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "knowledge base granted"})
}

func (m *Module) handleRevokeKnowledgeBase(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge base id"})
		return
	}
	userID, err := parseUintID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ctx := c.Request.Context()
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		respondStoreError(c, err, "failed to load knowledge base")
		return
	}

	if !actor.CanAdministerKnowledgeBase(kb.CompanyKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
		return
	}

	if err := m.store.RevokeKnowledgeBase(ctx, userID, id); err != nil {
		respondStoreError(c, err, "failed to revoke knowledge base")
		return
	}

	c.Status(http.StatusNoContent)
}
