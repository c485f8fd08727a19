package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"context"

	"gorm.io/gorm"
)

// ForeignKeyRef names a foreign-key target by table and field name.
type ForeignKeyRef struct {
	Table string `json:"table" binding:"required"`
	Field string `json:"field" binding:"required"`
}

// FieldInput is one desired field in a bulk table/field replace.
type FieldInput struct {
	ID          *uint64        `json:"id,omitempty"`
	Name        string         `json:"name" binding:"required"`
	Description *string        `json:"description,omitempty"`
	FieldOrder  int            `json:"field_order"`
	IsUnique    bool           `json:"is_unique"`
	ForeignKey  *ForeignKeyRef `json:"foreign_key,omitempty"`
}

// TableInput is one desired table in a bulk table/field replace.
type TableInput struct {
	ID          *uint64      `json:"id,omitempty"`
	Name        string       `json:"name" binding:"required"`
	Description *string      `json:"description,omitempty"`
	TableOrder  int          `json:"table_order"`
	Fields      []FieldInput `json:"fields"`
}

type pendingRef struct {
	fieldID uint64
	ref     ForeignKeyRef
}

// ReplaceTables reconciles a knowledge base's stored table/field set against
// the incoming desired state, atomically.
//
// Phase 1 upserts every declared table and field (matching by identifier where
// present) and records a name → row map. Phase 2 resolves foreign-key targets
// against that map, materializing placeholder tables/fields for names declared
// nowhere in the batch — intentional support for incremental schema
// declaration, not an error. Targets that only exist in prior state are kept
// alive. Finally, anything stored before but absent from the new set is
// deleted, cascading a removed table's fields.
func (s *Store) ReplaceTables(ctx context.Context, kbID uint64, inputs []TableInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var kb KnowledgeBase
		if err := tx.First(&kb, "id = ?", kbID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var priorTables []TableMap
		if err := tx.Where("knowledge_base_id = ?", kbID).Find(&priorTables).Error; err != nil {
			return err
		}
		priorTableIDs := make([]uint64, 0, len(priorTables))
		for _, table := range priorTables {
			priorTableIDs = append(priorTableIDs, table.ID)
		}

		var priorFields []TableField
		if len(priorTableIDs) > 0 {
			if err := tx.Where("table_map_id IN ?", priorTableIDs).Find(&priorFields).Error; err != nil {
				return err
			}
		}

		tableByID := make(map[uint64]*TableMap, len(priorTables))
		tableByName := make(map[string]*TableMap, len(priorTables))
		tableNameByID := make(map[uint64]string, len(priorTables))
		maxTableOrder := 0
		for i := range priorTables {
			table := &priorTables[i]
			tableByID[table.ID] = table
			tableByName[nameKey(table.Name)] = table
			tableNameByID[table.ID] = nameKey(table.Name)
			if table.TableOrder > maxTableOrder {
				maxTableOrder = table.TableOrder
			}
		}

		fieldByID := make(map[uint64]*TableField, len(priorFields))
		fieldByName := make(map[string]*TableField, len(priorFields))
		nextFieldOrder := make(map[uint64]int)
		for i := range priorFields {
			field := &priorFields[i]
			fieldByID[field.ID] = field
			if tableName, ok := tableNameByID[field.TableMapID]; ok {
				fieldByName[tableName+"|"+nameKey(field.Name)] = field
			}
			if field.FieldOrder >= nextFieldOrder[field.TableMapID] {
				nextFieldOrder[field.TableMapID] = field.FieldOrder + 1
			}
		}

		keepTables := make(map[uint64]bool)
		keepFields := make(map[uint64]bool)
		var pending []pendingRef

		// Phase 1: upsert the declared tables and fields. Foreign-key pointers
		// are cleared here and re-resolved in phase 2 so forward references
		// within the batch land on persisted rows.
		for _, tableInput := range inputs {
			tableName := strings.TrimSpace(tableInput.Name)
			if tableName == "" {
				return fmt.Errorf("%w: table name cannot be empty", ErrInvalidInput)
			}

			order := tableInput.TableOrder
			if order <= 0 {
				maxTableOrder++
				order = maxTableOrder
			} else if order > maxTableOrder {
				maxTableOrder = order
			}

			var table *TableMap
			if tableInput.ID != nil {
				table = tableByID[*tableInput.ID]
			}
			if table != nil {
				if err := tx.Model(&TableMap{}).Where("id = ?", table.ID).Updates(map[string]interface{}{
					"name":        tableName,
					"description": tableInput.Description,
					"table_order": order,
					"updated_at":  time.Now().UTC(),
				}).Error; err != nil {
					return err
				}
				table.Name = tableName
				table.TableOrder = order
			} else {
				table = &TableMap{
					KnowledgeBaseID: kbID,
					Name:            tableName,
					Description:     tableInput.Description,
					TableOrder:      order,
				}
				if err := tx.Create(table).Error; err != nil {
					return err
				}
			}
			keepTables[table.ID] = true
			tableByName[nameKey(tableName)] = table

			for _, fieldInput := range tableInput.Fields {
				fieldName := strings.TrimSpace(fieldInput.Name)
				if fieldName == "" {
					return fmt.Errorf("%w: field name cannot be empty in table %q", ErrInvalidInput, tableName)
				}

				fieldOrder := fieldInput.FieldOrder
				if fieldOrder <= 0 {
					fieldOrder = nextFieldOrder[table.ID]
					if fieldOrder == 0 {
						fieldOrder = 1
					}
				}
				if fieldOrder >= nextFieldOrder[table.ID] {
					nextFieldOrder[table.ID] = fieldOrder + 1
				}

				var field *TableField
				if fieldInput.ID != nil {
					field = fieldByID[*fieldInput.ID]
				}
				if field != nil && field.TableMapID == table.ID {
					if err := tx.Model(&TableField{}).Where("id = ?", field.ID).Updates(map[string]interface{}{
						"name":           fieldName,
						"description":    fieldInput.Description,
						"field_order":    fieldOrder,
						"is_unique":      fieldInput.IsUnique,
						"is_foreign_key": false,
						"ref_table_id":   nil,
						"ref_field_id":   nil,
						"updated_at":     time.Now().UTC(),
					}).Error; err != nil {
						return err
					}
					field.Name = fieldName
				} else {
					field = &TableField{
						TableMapID:  table.ID,
						Name:        fieldName,
						Description: fieldInput.Description,
						FieldOrder:  fieldOrder,
						IsUnique:    fieldInput.IsUnique,
					}
					if err := tx.Create(field).Error; err != nil {
						return err
					}
				}
				keepFields[field.ID] = true
				fieldByName[nameKey(tableName)+"|"+nameKey(fieldName)] = field

				if fieldInput.ForeignKey != nil {
					pending = append(pending, pendingRef{fieldID: field.ID, ref: *fieldInput.ForeignKey})
				}
			}
		}

		// Phase 2: resolve foreign-key targets by name.
		for _, p := range pending {
			targetTableName := strings.TrimSpace(p.ref.Table)
			targetFieldName := strings.TrimSpace(p.ref.Field)
			if targetTableName == "" || targetFieldName == "" {
				return fmt.Errorf("%w: foreign key target table and field are required", ErrInvalidInput)
			}

			table := tableByName[nameKey(targetTableName)]
			if table == nil {
				maxTableOrder++
				table = &TableMap{
					KnowledgeBaseID: kbID,
					Name:            targetTableName,
					TableOrder:      maxTableOrder,
				}
				if err := tx.Create(table).Error; err != nil {
					return err
				}
				tableByName[nameKey(targetTableName)] = table
			}
			keepTables[table.ID] = true

			fieldKey := nameKey(targetTableName) + "|" + nameKey(targetFieldName)
			field := fieldByName[fieldKey]
			if field == nil {
				order := nextFieldOrder[table.ID]
				if order == 0 {
					order = 1
				}
				nextFieldOrder[table.ID] = order + 1
				field = &TableField{
					TableMapID: table.ID,
					Name:       targetFieldName,
					FieldOrder: order,
				}
				if err := tx.Create(field).Error; err != nil {
					return err
				}
				fieldByName[fieldKey] = field
			}
			keepFields[field.ID] = true

			if err := tx.Model(&TableField{}).Where("id = ?", p.fieldID).Updates(map[string]interface{}{
				"is_foreign_key": true,
				"ref_table_id":   table.ID,
				"ref_field_id":   field.ID,
				"updated_at":     time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}

		// Delete everything stored before that the new desired state no longer names.
		var dropTableIDs []uint64
		for _, table := range priorTables {
			if !keepTables[table.ID] {
				dropTableIDs = append(dropTableIDs, table.ID)
			}
		}
		var dropFieldIDs []uint64
		for _, field := range priorFields {
			if !keepFields[field.ID] {
				dropFieldIDs = append(dropFieldIDs, field.ID)
			}
		}

		if err := clearFieldRefsToTables(tx, dropTableIDs); err != nil {
			return err
		}
		if err := clearFieldRefsToFields(tx, dropFieldIDs); err != nil {
			return err
		}
		if len(dropFieldIDs) > 0 {
			if err := tx.Delete(&TableField{}, "id IN ?", dropFieldIDs).Error; err != nil {
				return err
			}
		}
		if len(dropTableIDs) > 0 {
			if err := tx.Delete(&TableField{}, "table_map_id IN ?", dropTableIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&TableMap{}, "id IN ?", dropTableIDs).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
