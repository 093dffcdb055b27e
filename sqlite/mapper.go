package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/asaidimu/go-collections/core/schema"
	"github.com/goccy/go-json"
)

// Options configure the snapshot table.
type Options struct {
	// Table is the name of the snapshot table. Defaults to DefaultTable.
	Table string
	// IfNotExists makes EnsureTable tolerate an existing table.
	IfNotExists bool
}

// DefaultTable is the snapshot table used when Options.Table is empty.
const DefaultTable = "collection_items"

// DefaultOptions returns options that create the default table if it is missing.
func DefaultOptions() *Options {
	return &Options{
		Table:       DefaultTable,
		IfNotExists: true,
	}
}

// quoteIdentifier safely quotes an identifier, such as a table or column name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Snapshotter) tableName() string {
	return quoteIdentifier(s.options.Table)
}

// CreateTableSQL returns the DDL for the snapshot table and its secondary index.
func (s *Snapshotter) CreateTableSQL() []string {
	table := s.tableName()
	ifNotExists := ""
	if s.options.IfNotExists {
		ifNotExists = "IF NOT EXISTS "
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE " + ifNotExists + table + " (\n")
	sb.WriteString(strings.Join([]string{
		`    "collection" TEXT NOT NULL`,
		`    "id" TEXT NOT NULL`,
		`    "version" INTEGER NOT NULL`,
		`    "data" TEXT NOT NULL`,
		`    "metadata" TEXT NOT NULL`,
		`    "updated_at" TEXT NOT NULL`,
		`    PRIMARY KEY ("collection", "id")`,
	}, ",\n"))
	sb.WriteString("\n);")

	index := quoteIdentifier("idx_" + s.options.Table + "_updated")
	return []string{
		sb.String(),
		fmt.Sprintf(`CREATE INDEX %s%s ON %s ("collection", "updated_at");`, ifNotExists, index, table),
	}
}

// itemRow is the column form of an item.
type itemRow struct {
	collection string
	id         string
	version    int
	data       string
	metadata   string
	updatedAt  string
}

func toRow(collection string, item *persistence.Item) (itemRow, error) {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return itemRow{}, fmt.Errorf("failed to encode data of item %s: %w", item.ID, err)
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return itemRow{}, fmt.Errorf("failed to encode metadata of item %s: %w", item.ID, err)
	}
	return itemRow{
		collection: collection,
		id:         item.ID,
		version:    item.Metadata.Version,
		data:       string(data),
		metadata:   string(metadata),
		updatedAt:  item.Metadata.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func (r itemRow) item() (*persistence.Item, error) {
	item := &persistence.Item{ID: r.id}
	var data schema.Document
	if err := json.Unmarshal([]byte(r.data), &data); err != nil {
		return nil, fmt.Errorf("failed to decode data of item %s: %w", r.id, err)
	}
	if data == nil {
		data = schema.Document{}
	}
	item.Data = data
	if err := json.Unmarshal([]byte(r.metadata), &item.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of item %s: %w", r.id, err)
	}
	return item, nil
}

// readRows scans snapshot rows into items.
func readRows(rows *sql.Rows) ([]*persistence.Item, error) {
	var items []*persistence.Item
	for rows.Next() {
		var r itemRow
		if err := rows.Scan(&r.collection, &r.id, &r.version, &r.data, &r.metadata, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		item, err := r.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return items, nil
}
