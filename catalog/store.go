package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"tabula_back/vault"
)

var (
	// ErrNotFound indicates the requested catalog record does not exist.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrInvalidInput indicates the caller supplied an unusable payload.
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// Store provides data access for the schema catalog, backed by GORM.
// Connection credentials pass through the vault on their way in and out.
type Store struct {
	db    *gorm.DB
	vault *vault.Vault
}

// NewStore wires a Store over the given database handle and credential vault.
func NewStore(db *gorm.DB, v *vault.Vault) *Store {
	return &Store{db: db, vault: v}
}

// Migrate creates or updates the catalog tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&Category{}, &KnowledgeBase{}, &TableMap{}, &TableField{},
		&Connection{}, &ConnectionDatabase{}, &UserConnectionGrant{}, &KnowledgeBaseAccess{},
	)
}

// ---- categories ----

// CreateCategory inserts a new category.
func (s *Store) CreateCategory(ctx context.Context, category *Category) error {
	if strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("%w: category name cannot be empty", ErrInvalidInput)
	}
	return s.db.WithContext(ctx).Create(category).Error
}

// GetCategory loads a category by primary key.
func (s *Store) GetCategory(ctx context.Context, id uint64) (*Category, error) {
	var category Category
	if err := s.db.WithContext(ctx).First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

// ListCategories returns the categories of one tenant, newest first.
func (s *Store) ListCategories(ctx context.Context, companyKey string) ([]Category, error) {
	var categories []Category
	err := s.db.WithContext(ctx).
		Where("company_key = ?", companyKey).
		Order("id DESC").
		Find(&categories).Error
	return categories, err
}

// UpdateCategory persists name/description/active changes.
func (s *Store) UpdateCategory(ctx context.Context, id uint64, updates map[string]interface{}) (*Category, error) {
	if len(updates) == 0 {
		return s.GetCategory(ctx, id)
	}
	updates["updated_at"] = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&Category{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetCategory(ctx, id)
}

// DeleteCategory removes a category. Its knowledge bases are deliberately left
// in place (orphaned, reachable by direct lookup only).
func (s *Store) DeleteCategory(ctx context.Context, id uint64) error {
	result := s.db.WithContext(ctx).Delete(&Category{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- knowledge bases ----

// CreateKnowledgeBase inserts a knowledge base under the given category,
// copying the category's company key.
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	if strings.TrimSpace(kb.Name) == "" {
		return fmt.Errorf("%w: knowledge base name cannot be empty", ErrInvalidInput)
	}

	category, err := s.GetCategory(ctx, kb.CategoryID)
	if err != nil {
		return err
	}
	kb.CompanyKey = category.CompanyKey

	return s.db.WithContext(ctx).Create(kb).Error
}

// GetKnowledgeBase loads a knowledge base with its table maps and fields,
// ordered for deterministic rendering.
func (s *Store) GetKnowledgeBase(ctx context.Context, id uint64) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.db.WithContext(ctx).
		Preload("Tables", func(db *gorm.DB) *gorm.DB { return db.Order("table_order ASC, id ASC") }).
		Preload("Tables.Fields", func(db *gorm.DB) *gorm.DB { return db.Order("field_order ASC, id ASC") }).
		First(&kb, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases returns the knowledge bases of a live category. Orphaned
// knowledge bases (deleted category) do not surface here, only via GetKnowledgeBase.
func (s *Store) ListKnowledgeBases(ctx context.Context, categoryID uint64) ([]KnowledgeBase, error) {
	if _, err := s.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	var kbs []KnowledgeBase
	err := s.db.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Order("id DESC").
		Find(&kbs).Error
	return kbs, err
}

// KnowledgeBaseUpdate carries the mutable knowledge-base attributes.
type KnowledgeBaseUpdate struct {
	CategoryID   *uint64
	Name         *string
	Description  *string
	ConnectionID *uint64
	DatabaseName *string
	Active       *bool
}

// UpdateKnowledgeBase applies the update. Whenever the category changes, the
// knowledge base re-inherits that category's company key so
// kb.company_key == kb.category.company_key holds after every mutation.
func (s *Store) UpdateKnowledgeBase(ctx context.Context, id uint64, update KnowledgeBaseUpdate) (*KnowledgeBase, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var kb KnowledgeBase
		if err := tx.First(&kb, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]interface{}{"updated_at": time.Now().UTC()}
		if update.CategoryID != nil && *update.CategoryID != kb.CategoryID {
			var category Category
			if err := tx.First(&category, "id = ?", *update.CategoryID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			updates["category_id"] = category.ID
			updates["company_key"] = category.CompanyKey
		}
		if update.Name != nil {
			if strings.TrimSpace(*update.Name) == "" {
				return fmt.Errorf("%w: knowledge base name cannot be empty", ErrInvalidInput)
			}
			updates["name"] = strings.TrimSpace(*update.Name)
		}
		if update.Description != nil {
			updates["description"] = *update.Description
		}
		if update.ConnectionID != nil {
			updates["connection_id"] = *update.ConnectionID
		}
		if update.DatabaseName != nil {
			updates["database_name"] = strings.TrimSpace(*update.DatabaseName)
		}
		if update.Active != nil {
			updates["active"] = *update.Active
		}

		return tx.Model(&KnowledgeBase{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetKnowledgeBase(ctx, id)
}

// DeleteKnowledgeBase removes the knowledge base and cascades to its table
// maps, their fields, and its access grants.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tableIDs []uint64
		if err := tx.Model(&TableMap{}).
			Where("knowledge_base_id = ?", id).
			Pluck("id", &tableIDs).Error; err != nil {
			return err
		}

		if len(tableIDs) > 0 {
			if err := tx.Delete(&TableField{}, "table_map_id IN ?", tableIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&TableMap{}, "id IN ?", tableIDs).Error; err != nil {
				return err
			}
		}

		if err := tx.Delete(&KnowledgeBaseAccess{}, "knowledge_base_id = ?", id).Error; err != nil {
			return err
		}

		result := tx.Delete(&KnowledgeBase{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteTableMap removes one table map, cascades its fields, and nulls any
// foreign-key pointer that referenced the removed table or its fields.
func (s *Store) DeleteTableMap(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearFieldRefsToTables(tx, []uint64{id}); err != nil {
			return err
		}
		if err := tx.Delete(&TableField{}, "table_map_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&TableMap{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteField removes one field. Referencing fields are repaired (pointers
// nulled), never left dangling.
func (s *Store) DeleteField(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearFieldRefsToFields(tx, []uint64{id}); err != nil {
			return err
		}
		result := tx.Delete(&TableField{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func clearFieldRefsToTables(tx *gorm.DB, tableIDs []uint64) error {
	if len(tableIDs) == 0 {
		return nil
	}
	return tx.Model(&TableField{}).
		Where("ref_table_id IN ?", tableIDs).
		Updates(map[string]interface{}{
			"is_foreign_key": false,
			"ref_table_id":   nil,
			"ref_field_id":   nil,
		}).Error
}

func clearFieldRefsToFields(tx *gorm.DB, fieldIDs []uint64) error {
	if len(fieldIDs) == 0 {
		return nil
	}
	return tx.Model(&TableField{}).
		Where("ref_field_id IN ?", fieldIDs).
		Updates(map[string]interface{}{
			"is_foreign_key": false,
			"ref_table_id":   nil,
			"ref_field_id":   nil,
		}).Error
}

// ---- connections ----

// ConnectionParams carries plaintext connection attributes; credentials are
// sealed before they touch the database.
type ConnectionParams struct {
	Name      string
	Driver    string
	Host      string
	User      string
	Password  string
	Databases []string
}

// Credentials is a decrypted connection descriptor. It lives only for the
// duration of one query and is never persisted.
type Credentials struct {
	Driver   string
	Host     string
	User     string
	Password string
}

// CreateConnection seals the credentials and inserts the connection with its
// named database list.
func (s *Store) CreateConnection(ctx context.Context, companyKey string, createdBy uint64, params ConnectionParams) (*Connection, error) {
	if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.Host) == "" {
		return nil, fmt.Errorf("%w: connection name and host are required", ErrInvalidInput)
	}

	hostCipher, err := s.vault.EncryptString(strings.TrimSpace(params.Host))
	if err != nil {
		return nil, err
	}
	userCipher, err := s.vault.EncryptString(strings.TrimSpace(params.User))
	if err != nil {
		return nil, err
	}
	passwordCipher, err := s.vault.EncryptString(params.Password)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		Name:           strings.TrimSpace(params.Name),
		CompanyKey:     companyKey,
		Driver:         normalizeDriver(params.Driver),
		HostCipher:     hostCipher,
		UserCipher:     userCipher,
		PasswordCipher: passwordCipher,
		CreatedBy:      createdBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conn).Error; err != nil {
			return err
		}
		for _, name := range params.Databases {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				continue
			}
			if err := tx.Create(&ConnectionDatabase{ConnectionID: conn.ID, Name: trimmed}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetConnection(ctx, conn.ID)
}

// GetConnection loads a connection with its database list. Credential fields
// stay encrypted.
func (s *Store) GetConnection(ctx context.Context, id uint64) (*Connection, error) {
	var conn Connection
	err := s.db.WithContext(ctx).
		Preload("Databases").
		First(&conn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// ListConnections returns one tenant's connections.
func (s *Store) ListConnections(ctx context.Context, companyKey string) ([]Connection, error) {
	var conns []Connection
	err := s.db.WithContext(ctx).
		Preload("Databases").
		Where("company_key = ?", companyKey).
		Order("id DESC").
		Find(&conns).Error
	return conns, err
}

// DeleteConnection removes a connection, its database list, and its user grants.
func (s *Store) DeleteConnection(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ConnectionDatabase{}, "connection_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&UserConnectionGrant{}, "connection_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&Connection{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DecryptCredentials opens the connection's sealed credential fields. Called
// only at query time; the result must not outlive the query.
func (s *Store) DecryptCredentials(conn *Connection) (Credentials, error) {
	host, err := s.vault.DecryptString(conn.HostCipher)
	if err != nil {
		return Credentials{}, err
	}
	user, err := s.vault.DecryptString(conn.UserCipher)
	if err != nil {
		return Credentials{}, err
	}
	password, err := s.vault.DecryptString(conn.PasswordCipher)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Driver:   conn.Driver,
		Host:     host,
		User:     user,
		Password: password,
	}, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "sqlserver", "mssql":
		return "sqlserver"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "mysql"
	}
}

// ---- grants ----

// GrantConnection authorizes a user to use a connection. Re-granting is a no-op.
func (s *Store) GrantConnection(ctx context.Context, userID, connectionID uint64) error {
	var existing UserConnectionGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.WithContext(ctx).Create(&UserConnectionGrant{UserID: userID, ConnectionID: connectionID}).Error
}

// RevokeConnection removes a user's connection grant.
func (s *Store) RevokeConnection(ctx context.Context, userID, connectionID uint64) error {
	return s.db.WithContext(ctx).
		Delete(&UserConnectionGrant{}, "user_id = ? AND connection_id = ?", userID, connectionID).Error
}

// HasConnectionGrant reports whether the user holds a grant for the connection.
func (s *Store) HasConnectionGrant(ctx context.Context, userID, connectionID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserConnectionGrant{}).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Count(&count).Error
	return count > 0, err
}

// GrantKnowledgeBase authorizes a user to chat through a knowledge base,
// reactivating a previously revoked grant when one exists.
func (s *Store) GrantKnowledgeBase(ctx context.Context, userID, kbID, grantedBy uint64) error {
	var existing KnowledgeBaseAccess
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND knowledge_base_id = ?", userID, kbID).
		Take(&existing).Error
	if err == nil {
		return s.db.WithContext(ctx).Model(&KnowledgeBaseAccess{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"active": true, "granted_by": grantedBy, "updated_at": time.Now().UTC()}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.WithContext(ctx).Create(&KnowledgeBaseAccess{
		UserID:          userID,
		KnowledgeBaseID: kbID,
		Active:          true,
		GrantedBy:       grantedBy,
	}).Error
}

// RevokeKnowledgeBase deactivates a user's knowledge-base grant.
func (s *Store) RevokeKnowledgeBase(ctx context.Context, userID, kbID uint64) error {
	return s.db.WithContext(ctx).Model(&KnowledgeBaseAccess{}).
		Where("user_id = ? AND knowledge_base_id = ?", userID, kbID).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now().UTC()}).Error
}

// HasActiveKnowledgeBaseGrant reports whether an active chat grant exists.
func (s *Store) HasActiveKnowledgeBaseGrant(ctx context.Context, userID, kbID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&KnowledgeBaseAccess{}).
		Where("user_id = ? AND knowledge_base_id = ? AND active = ?", userID, kbID, true).
		Count(&count).Error
	return count > 0, err
}
