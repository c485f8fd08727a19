package chat

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tabula_back/nl2sql"
)

// Roles stored on a chat entry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatEntry 是某用户在某知识库下的一条对话记录。历史只追加，不删改;
// 读取侧只回放末尾若干条。
type ChatEntry struct {
	ID              uint64         `gorm:"primaryKey" json:"id"`
	UserID          uint64         `gorm:"not null;index:idx_chat_user_kb" json:"user_id"`
	KnowledgeBaseID uint64         `gorm:"not null;index:idx_chat_user_kb" json:"knowledge_base_id"`
	Role            string         `gorm:"size:20;not null" json:"role"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	OutputType      string         `gorm:"size:20" json:"output_type,omitempty"`
	Payload         datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName 指定 ChatEntry 模型对应的数据库表名。
func (ChatEntry) TableName() string {
	return "chat_entries"
}

// HistoryStore persists chat entries in the metadata database.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore 创建聊天历史存储。
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Migrate 同步聊天相关表结构。
func (s *HistoryStore) Migrate() error {
	return s.db.AutoMigrate(&ChatEntry{})
}

// Append 追加一条对话记录。
func (s *HistoryStore) Append(ctx context.Context, entry *ChatEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// Recent 返回该用户在该知识库下最近的 limit 条记录，按时间升序。
func (s *HistoryStore) Recent(ctx context.Context, userID, kbID uint64, limit int) ([]ChatEntry, error) {
	var entries []ChatEntry
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND knowledge_base_id = ?", userID, kbID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	// 倒序取出后翻转为时间升序。
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// List 返回该用户在该知识库下的全部记录，按时间升序。
func (s *HistoryStore) List(ctx context.Context, userID, kbID uint64) ([]ChatEntry, error) {
	return s.Recent(ctx, userID, kbID, 0)
}

// historyTurns 将历史记录转换为翻译器可回放的对话轮次。
func historyTurns(entries []ChatEntry) []nl2sql.Turn {
	turns := make([]nl2sql.Turn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, nl2sql.Turn{Role: entry.Role, Content: entry.Content})
	}
	return turns
}
