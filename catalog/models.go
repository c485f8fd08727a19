package catalog

import (
	"time"
)

// Category 将知识库按业务主题分组，归属于单一租户。
type Category struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description *string   `gorm:"size:255" json:"description,omitempty"`
	CompanyKey  string    `gorm:"size:32;not null;index" json:"company_key"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedBy   uint64    `gorm:"not null;index" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定 Category 模型对应的数据库表名。
func (Category) TableName() string {
	return "kb_categories"
}

// KnowledgeBase 描述一个来自外部连接/数据库的数据集 schema。
// CompanyKey 总是从所属 Category 复制而来，绝不取自调用方。
type KnowledgeBase struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	CategoryID   uint64     `gorm:"not null;index" json:"category_id"`
	CompanyKey   string     `gorm:"size:32;not null;index" json:"company_key"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	Description  string     `gorm:"type:text" json:"description"`
	ConnectionID uint64     `gorm:"not null;index" json:"connection_id"`
	DatabaseName string     `gorm:"size:100;not null" json:"database_name"`
	Active       bool       `gorm:"not null;default:true" json:"active"`
	CreatedBy    uint64     `gorm:"not null;index" json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Tables       []TableMap `gorm:"foreignKey:KnowledgeBaseID" json:"tables,omitempty"`
}

// TableName 指定 KnowledgeBase 模型对应的数据库表名。
func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// TableMap 表示知识库内的一张源表。TableOrder 自 1 起、同一知识库内唯一，允许空洞。
type TableMap struct {
	ID              uint64       `gorm:"primaryKey" json:"id"`
	KnowledgeBaseID uint64       `gorm:"not null;index:idx_kb_table" json:"knowledge_base_id"`
	Name            string       `gorm:"size:100;not null" json:"name"`
	Description     *string      `gorm:"size:255" json:"description,omitempty"`
	TableOrder      int          `gorm:"not null;default:1" json:"table_order"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Fields          []TableField `gorm:"foreignKey:TableMapID" json:"fields,omitempty"`
}

// TableName 指定 TableMap 模型对应的数据库表名。
func (TableMap) TableName() string {
	return "kb_table_maps"
}

// TableField 表示源表的一列。当 IsForeignKey 为真时，Ref 指针指向同一知识库
// 内另一张表的另一列；该关系图允许成环。被引用列删除时引用方指针被置空，
// 绝不留下悬挂引用。
type TableField struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	TableMapID   uint64    `gorm:"not null;index" json:"table_map_id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Description  *string   `gorm:"size:255" json:"description,omitempty"`
	FieldOrder   int       `gorm:"not null;default:1" json:"field_order"`
	IsUnique     bool      `gorm:"not null;default:false" json:"is_unique"`
	IsForeignKey bool      `gorm:"not null;default:false" json:"is_foreign_key"`
	RefTableID   *uint64   `gorm:"index" json:"ref_table_id,omitempty"`
	RefFieldID   *uint64   `gorm:"index" json:"ref_field_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定 TableField 模型对应的数据库表名。
func (TableField) TableName() string {
	return "kb_table_fields"
}

// Connection 是外部关系型数据库的连接描述符。主机、用户与口令分别加密存储，
// 仅在执行查询的瞬间解密。
type Connection struct {
	ID             uint64               `gorm:"primaryKey" json:"id"`
	Name           string               `gorm:"size:100;not null" json:"name"`
	CompanyKey     string               `gorm:"size:32;not null;index" json:"company_key"`
	Driver         string               `gorm:"size:20;not null;default:'mysql'" json:"driver"`
	HostCipher     string               `gorm:"size:512;not null" json:"-"`
	UserCipher     string               `gorm:"size:512;not null" json:"-"`
	PasswordCipher string               `gorm:"size:512;not null" json:"-"`
	CreatedBy      uint64               `gorm:"not null;index" json:"created_by"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Databases      []ConnectionDatabase `gorm:"foreignKey:ConnectionID" json:"databases,omitempty"`
}

// TableName 指定 Connection 模型对应的数据库表名。
func (Connection) TableName() string {
	return "external_connections"
}

// ConnectionDatabase 是通过某连接可达的一个命名数据库。
type ConnectionDatabase struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	ConnectionID uint64    `gorm:"not null;index" json:"connection_id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定 ConnectionDatabase 模型对应的数据库表名。
func (ConnectionDatabase) TableName() string {
	return "external_connection_databases"
}

// UserConnectionGrant 授权非特权用户使用指定连接。
type UserConnectionGrant struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	UserID       uint64    `gorm:"not null;uniqueIndex:idx_user_connection" json:"user_id"`
	ConnectionID uint64    `gorm:"not null;uniqueIndex:idx_user_connection" json:"connection_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定 UserConnectionGrant 模型对应的数据库表名。
func (UserConnectionGrant) TableName() string {
	return "user_connection_grants"
}

// KnowledgeBaseAccess 授权指定用户通过对话查询某知识库。
type KnowledgeBaseAccess struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	UserID          uint64    `gorm:"not null;uniqueIndex:idx_user_kb" json:"user_id"`
	KnowledgeBaseID uint64    `gorm:"not null;uniqueIndex:idx_user_kb" json:"knowledge_base_id"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	GrantedBy       uint64    `gorm:"not null" json:"granted_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定 KnowledgeBaseAccess 模型对应的数据库表名。
func (KnowledgeBaseAccess) TableName() string {
	return "knowledge_base_access"
}
