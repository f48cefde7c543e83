package cmd

import (
	"flag"
	"fmt"
	"log"

	"ingest-backend/internal/normalize"
	"ingest-backend/internal/pipeline"
	"ingest-backend/internal/storage"
	"ingest-backend/internal/warehouse"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// PipelineConfig is the deployment configuration shared by the api and
// worker binaries. Destination dataset/table and the expected source bucket
// are fixed per deployment.
type PipelineConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR"`

	SourceBucket string `env:"SOURCE_BUCKET" envDefault:"transactions-event-bucket"`
	Dataset      string `env:"DATASET_ID" envDefault:"transactions_dataset"`
	Table        string `env:"TABLE_ID" envDefault:"transactions_partitioned"`

	// NormalizePolicy selects the materialization strategy: empty loads the
	// object by reference; drop_synthetic, drop_leading, and types normalize
	// first and load the cleaned file.
	NormalizePolicy    string   `env:"NORMALIZE_POLICY"`
	DropLeadingColumns int      `env:"DROP_LEADING_COLUMNS" envDefault:"1"`
	DateColumns        []string `env:"DATE_COLUMNS" envSeparator:"," envDefault:"purchase_date,gift_card_purchase_date"`
	BoolColumns        []string `env:"BOOL_COLUMNS" envSeparator:"," envDefault:"paid_with_credit_card,paid_with_gift_card"`
	IntColumns         []string `env:"INT_COLUMNS" envSeparator:"," envDefault:"nb_gift_card_used"`
	ReuploadCleaned    bool     `env:"REUPLOAD_CLEANED" envDefault:"false"`

	ExplicitSchema  bool `env:"EXPLICIT_SCHEMA" envDefault:"false"`
	RandomJobSuffix bool `env:"RANDOM_JOB_SUFFIX" envDefault:"false"`
}

// NewObjectStore picks the local filesystem store when LOCAL_STORAGE_DIR is
// set; otherwise S3 (or any S3-compatible endpoint such as MinIO).
func NewObjectStore(cfg PipelineConfig) (storage.ObjectStore, error) {
	if cfg.LocalStorageDir != "" {
		return storage.NewLocalObjectStore(cfg.LocalStorageDir)
	}

	return storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

func newMaterializer(cfg PipelineConfig, objects storage.ObjectStore) (pipeline.SourceMaterializer, error) {
	var policy normalize.Policy
	switch cfg.NormalizePolicy {
	case "":
		return pipeline.ReferenceMaterializer{}, nil
	case "drop_synthetic":
		policy = normalize.DropSynthetic(normalize.SyntheticPrefix)
	case "drop_leading":
		policy = normalize.DropLeading(cfg.DropLeadingColumns)
	case "types":
		policy = normalize.Types(normalize.TypeRules{
			DateColumns: cfg.DateColumns,
			BoolColumns: cfg.BoolColumns,
			IntColumns:  cfg.IntColumns,
		})
	default:
		return nil, fmt.Errorf("unknown normalize policy %q", cfg.NormalizePolicy)
	}

	materializer := pipeline.NewNormalizeMaterializer(objects, policy)
	if cfg.ReuploadCleaned {
		materializer = materializer.WithReupload()
	}
	return materializer, nil
}

// BuildLoader wires the full pipeline from deployment configuration.
func BuildLoader(cfg PipelineConfig, db *gorm.DB, objects storage.ObjectStore) (*pipeline.Loader, error) {
	materializer, err := newMaterializer(cfg, objects)
	if err != nil {
		return nil, err
	}

	builder := warehouse.NewBuilder(cfg.Dataset, cfg.Table)
	if cfg.ExplicitSchema {
		builder = builder.WithSchema(warehouse.TransactionSchema())
	}
	if cfg.RandomJobSuffix {
		builder = builder.WithRandomSuffix()
	}

	resolver := pipeline.NewResolver(objects, cfg.SourceBucket)
	wh := warehouse.NewSQLWarehouse(db, objects)

	return pipeline.NewLoader(resolver, materializer, builder, wh), nil
}
