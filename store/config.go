package store

const (
	defaultUniqueTable     = "arbor_unique_constraints"
	defaultIndexNameFormat = "%s-index"
)

// Config holds configuration for the Store.
type Config struct {
	// UniqueTable is the name of the unique constraints table.
	// Default: "arbor_unique_constraints"
	UniqueTable string

	// TablePrefix is prepended to every model table name to form the
	// DynamoDB table name, e.g. "prod_" maps "author" to "prod_author".
	TablePrefix string

	// IndexNameFormat names the global secondary index that serves lookups
	// by a foreign key field. It is passed to fmt.Sprintf with the field name.
	// Default: "%s-index"
	IndexNameFormat string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UniqueTable:     defaultUniqueTable,
		IndexNameFormat: defaultIndexNameFormat,
	}
}

// validate fills in missing values.
func (c *Config) validate() {
	if c.UniqueTable == "" {
		c.UniqueTable = defaultUniqueTable
	}
	if c.IndexNameFormat == "" {
		c.IndexNameFormat = defaultIndexNameFormat
	}
}
