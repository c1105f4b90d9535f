package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client streams analytics rows into one dataset. The order facts table must exist
// before the worker starts; this package never creates or alters tables.
type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	orderFacts string
}

// NewClient connects to BigQuery and checks that the dataset and order facts table exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	orderFacts := strings.TrimSpace(cfg.OrderFactsTable)
	if orderFacts == "" {
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	client := &Client{
		client:     bq,
		dataset:    bq.Dataset(datasetID),
		orderFacts: orderFacts,
	}
	if err := client.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"table":   orderFacts,
		}), "bigquery client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Ping checks that the dataset and the order facts table are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	_, err := c.tableMetadata(ctx, c.orderFacts)
	return err
}

// VerifyColumns fails when table lacks any of columns. Run at startup so a schema
// that drifted from the row encoder is caught before rows start failing.
func (c *Client) VerifyColumns(ctx context.Context, table string, columns []string) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	meta, err := c.tableMetadata(ctx, table)
	if err != nil {
		return err
	}
	if missing := missingColumns(meta.Schema, columns); len(missing) > 0 {
		return fmt.Errorf("table %q is missing columns: %s", table, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Client) tableMetadata(ctx context.Context, table string) (*bigquery.TableMetadata, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errTableNameRequired
	}
	meta, err := c.dataset.Table(table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("table %q does not exist", table)
		}
		return nil, fmt.Errorf("checking table %q: %w", table, err)
	}
	if meta.Type != "" && meta.Type != bigquery.RegularTable {
		return nil, fmt.Errorf("%q is a %s, not a table", table, meta.Type)
	}
	return meta, nil
}

// InsertRows streams rows into table. Row-level failures come back as a
// bigquery.PutMultiError inside the returned error.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	if err := c.dataset.Table(table).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("stream %d rows into %s: %w", len(rows), table, err)
	}
	return nil
}

// OrderFactsTable returns the configured order facts table name.
func (c *Client) OrderFactsTable() string {
	if c == nil {
		return ""
	}
	return c.orderFacts
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func missingColumns(schema bigquery.Schema, want []string) []string {
	have := make(map[string]struct{}, len(schema))
	for _, field := range schema {
		if field != nil {
			have[strings.ToLower(field.Name)] = struct{}{}
		}
	}
	var missing []string
	for _, column := range want {
		if _, ok := have[strings.ToLower(column)]; !ok {
			missing = append(missing, column)
		}
	}
	sort.Strings(missing)
	return missing
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
