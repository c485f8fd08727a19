package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tabula_back/vault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	v, err := vault.New([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	store := NewStore(db, v)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func mustCategory(t *testing.T, store *Store, name, companyKey string) *Category {
	t.Helper()
	category := &Category{Name: name, CompanyKey: companyKey, Active: true, CreatedBy: 1}
	if err := store.CreateCategory(context.Background(), category); err != nil {
		t.Fatalf("create category %q: %v", name, err)
	}
	return category
}

func mustKnowledgeBase(t *testing.T, store *Store, categoryID uint64, name string) *KnowledgeBase {
	t.Helper()
	kb := &KnowledgeBase{
		CategoryID:   categoryID,
		Name:         name,
		ConnectionID: 1,
		DatabaseName: "sales",
		Active:       true,
		CreatedBy:    1,
	}
	if err := store.CreateKnowledgeBase(context.Background(), kb); err != nil {
		t.Fatalf("create knowledge base %q: %v", name, err)
	}
	return kb
}

func TestKnowledgeBaseInheritsCompanyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := mustCategory(t, store, "Sales", "7")
	second := mustCategory(t, store, "Finance", "9")

	kb := mustKnowledgeBase(t, store, first.ID, "orders")
	if kb.CompanyKey != "7" {
		t.Fatalf("expected company key inherited from category, got %q", kb.CompanyKey)
	}

	// Moving to another category re-inherits that category's tenant.
	moved, err := store.UpdateKnowledgeBase(ctx, kb.ID, KnowledgeBaseUpdate{CategoryID: &second.ID})
	if err != nil {
		t.Fatalf("update knowledge base: %v", err)
	}
	if moved.CompanyKey != "9" {
		t.Fatalf("expected company key %q after move, got %q", "9", moved.CompanyKey)
	}
}

func TestUpdateKnowledgeBaseRejectsEmptyName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	category := mustCategory(t, store, "Sales", "7")
	kb := mustKnowledgeBase(t, store, category.ID, "orders")

	empty := "   "
	if _, err := store.UpdateKnowledgeBase(ctx, kb.ID, KnowledgeBaseUpdate{Name: &empty}); err == nil {
		t.Fatal("expected an error for blank name")
	}
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	category := mustCategory(t, store, "Sales", "7")
	kb := mustKnowledgeBase(t, store, category.ID, "orders")

	err := store.ReplaceTables(ctx, kb.ID, []TableInput{
		{Name: "orders", Fields: []FieldInput{
			{Name: "id", IsUnique: true},
			{Name: "customer_id", ForeignKey: &ForeignKeyRef{Table: "customers", Field: "id"}},
		}},
		{Name: "customers", Fields: []FieldInput{{Name: "id", IsUnique: true}}},
	})
	if err != nil {
		t.Fatalf("replace tables: %v", err)
	}
	if err := store.GrantKnowledgeBase(ctx, 42, kb.ID, 1); err != nil {
		t.Fatalf("grant knowledge base: %v", err)
	}

	if err := store.DeleteKnowledgeBase(ctx, kb.ID); err != nil {
		t.Fatalf("delete knowledge base: %v", err)
	}

	if _, err := store.GetKnowledgeBase(ctx, kb.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	var tables, fields, grants int64
	store.db.Model(&TableMap{}).Where("knowledge_base_id = ?", kb.ID).Count(&tables)
	store.db.Model(&TableField{}).Count(&fields)
	store.db.Model(&KnowledgeBaseAccess{}).Where("knowledge_base_id = ?", kb.ID).Count(&grants)
	if tables != 0 || fields != 0 || grants != 0 {
		t.Errorf("cascade incomplete: tables=%d fields=%d grants=%d", tables, fields, grants)
	}
}

func TestDeleteCategoryLeavesKnowledgeBases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	category := mustCategory(t, store, "Sales", "7")
	kb := mustKnowledgeBase(t, store, category.ID, "orders")

	if err := store.DeleteCategory(ctx, category.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	// The orphaned knowledge base survives direct lookup but is hidden from
	// category listing.
	if _, err := store.GetKnowledgeBase(ctx, kb.ID); err != nil {
		t.Fatalf("orphaned knowledge base should remain loadable: %v", err)
	}
	if _, err := store.ListKnowledgeBases(ctx, category.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound listing under deleted category, got %v", err)
	}
}

func TestDeleteFieldRepairsReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	category := mustCategory(t, store, "Sales", "7")
	kb := mustKnowledgeBase(t, store, category.ID, "orders")

	err := store.ReplaceTables(ctx, kb.ID, []TableInput{
		{Name: "orders", Fields: []FieldInput{
			{Name: "customer_id", ForeignKey: &ForeignKeyRef{Table: "customers", Field: "id"}},
		}},
		{Name: "customers", Fields: []FieldInput{{Name: "id", IsUnique: true}}},
	})
	if err != nil {
		t.Fatalf("replace tables: %v", err)
	}

	loaded, err := store.GetKnowledgeBase(ctx, kb.ID)
	if err != nil {
		t.Fatalf("load knowledge base: %v", err)
	}

	var targetID, referrerID uint64
	for _, table := range loaded.Tables {
		for _, field := range table.Fields {
			if table.Name == "customers" && field.Name == "id" {
				targetID = field.ID
			}
			if table.Name == "orders" && field.Name == "customer_id" {
				referrerID = field.ID
			}
		}
	}
	if targetID == 0 || referrerID == 0 {
		t.Fatalf("fixture fields missing: target=%d referrer=%d", targetID, referrerID)
	}

	if err := store.DeleteField(ctx, targetID); err != nil {
		t.Fatalf("delete field: %v", err)
	}

	var referrer TableField
	if err := store.db.First(&referrer, "id = ?", referrerID).Error; err != nil {
		t.Fatalf("load referrer: %v", err)
	}
	if referrer.IsForeignKey || referrer.RefTableID != nil || referrer.RefFieldID != nil {
		t.Errorf("dangling reference left behind: %+v", referrer)
	}
}

func TestConnectionCredentialsSealedAtRest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conn, err := store.CreateConnection(ctx, "7", 1, ConnectionParams{
		Name:      "warehouse",
		Driver:    "postgres",
		Host:      "db.internal:5432",
		User:      "reporting",
		Password:  "s3cret",
		Databases: []string{"sales", "hr"},
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}

	if conn.HostCipher == "db.internal:5432" || conn.UserCipher == "reporting" || conn.PasswordCipher == "s3cret" {
		t.Fatal("credentials stored in plaintext")
	}

	loaded, err := store.GetConnection(ctx, conn.ID)
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if len(loaded.Databases) != 2 {
		t.Fatalf("expected 2 databases, got %d", len(loaded.Databases))
	}

	creds, err := store.DecryptCredentials(loaded)
	if err != nil {
		t.Fatalf("decrypt credentials: %v", err)
	}
	if creds.Host != "db.internal:5432" || creds.User != "reporting" || creds.Password != "s3cret" {
		t.Errorf("round trip mismatch: %+v", creds)
	}
	if creds.Driver != "postgres" {
		t.Errorf("expected normalized driver postgres, got %q", creds.Driver)
	}
}

func TestConnectionGrantLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conn, err := store.CreateConnection(ctx, "7", 1, ConnectionParams{
		Name: "warehouse", Host: "db:3306", User: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}

	has, err := store.HasConnectionGrant(ctx, 42, conn.ID)
	if err != nil || has {
		t.Fatalf("expected no grant initially, has=%v err=%v", has, err)
	}

	if err := store.GrantConnection(ctx, 42, conn.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// idempotent
	if err := store.GrantConnection(ctx, 42, conn.ID); err != nil {
		t.Fatalf("re-grant: %v", err)
	}

	has, err = store.HasConnectionGrant(ctx, 42, conn.ID)
	if err != nil || !has {
		t.Fatalf("expected grant, has=%v err=%v", has, err)
	}

	if err := store.RevokeConnection(ctx, 42, conn.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	has, _ = store.HasConnectionGrant(ctx, 42, conn.ID)
	if has {
		t.Fatal("grant survived revocation")
	}
}

func TestKnowledgeBaseGrantReactivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	category := mustCategory(t, store, "Sales", "7")
	kb := mustKnowledgeBase(t, store, category.ID, "orders")

	if err := store.GrantKnowledgeBase(ctx, 42, kb.ID, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := store.RevokeKnowledgeBase(ctx, 42, kb.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	has, err := store.HasActiveKnowledgeBaseGrant(ctx, 42, kb.ID)
	if err != nil || has {
		t.Fatalf("revoked grant still active, has=%v err=%v", has, err)
	}

	// Re-granting flips the existing record back to active instead of
	// inserting a duplicate.
	if err := store.GrantKnowledgeBase(ctx, 42, kb.ID, 1); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	has, err = store.HasActiveKnowledgeBaseGrant(ctx, 42, kb.ID)
	if err != nil || !has {
		t.Fatalf("expected reactivated grant, has=%v err=%v", has, err)
	}

	var count int64
	store.db.Model(&KnowledgeBaseAccess{}).
		Where("user_id = ? AND knowledge_base_id = ?", 42, kb.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("expected a single access record, got %d", count)
	}
}
