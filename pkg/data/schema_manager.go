package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SchemaManager applies SQL schema files in lexical order
type SchemaManager struct {
	conn      *pgx.Conn
	schemaDir string
}

// NewSchemaManager creates a schema manager reading from schemaDir
func NewSchemaManager(conn *pgx.Conn, schemaDir string) *SchemaManager {
	if schemaDir == "" {
		schemaDir = "./sql/schema"
	}
	return &SchemaManager{
		conn:      conn,
		schemaDir: schemaDir,
	}
}

// InitializeSchema executes every .sql file in the schema directory inside a
// single transaction.
func (sm *SchemaManager) InitializeSchema(ctx context.Context) error {
	files, err := os.ReadDir(sm.schemaDir)
	if err != nil {
		return fmt.Errorf("reading schema directory: %w", err)
	}

	// Sort files to ensure correct order
	fileNames := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".sql") {
			fileNames = append(fileNames, f.Name())
		}
	}
	sort.Strings(fileNames)

	tx, err := sm.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, fileName := range fileNames {
		sqlFile := filepath.Join(sm.schemaDir, fileName)
		content, err := os.ReadFile(sqlFile)
		if err != nil {
			return fmt.Errorf("reading schema file %s: %w", fileName, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("executing schema file %s: %w", fileName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}
