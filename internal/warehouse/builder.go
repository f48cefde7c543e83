package warehouse

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var jobIdSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Builder constructs load-job descriptors with the deployment's fixed
// destination and policy choices baked in.
type Builder struct {
	dataset string
	table   string
	schema  Schema

	randomSuffix bool
}

func NewBuilder(dataset, table string) *Builder {
	return &Builder{dataset: dataset, table: table}
}

// WithSchema pins the destination to an explicit schema instead of
// delegating inference to the warehouse.
func (b *Builder) WithSchema(schema Schema) *Builder {
	b.schema = schema
	return b
}

// WithRandomSuffix appends a random component to every job id. This rules
// out id collisions when the same object name is re-uploaded with new
// content, at the cost of idempotency: a redelivered notification will load
// the file a second time. The default, a deterministic id, makes retried
// delivery safe instead.
func (b *Builder) WithRandomSuffix() *Builder {
	b.randomSuffix = true
	return b
}

func (b *Builder) Build(source Source) LoadJob {
	return LoadJob{
		JobID:   b.jobId(source.Name),
		Source:  source,
		Dataset: b.dataset,
		Table:   b.table,
		Schema:  b.schema,

		WriteMode:           WriteAppend,
		SkipLeadingRows:     1,
		AllowJaggedRows:     true,
		AllowQuotedNewlines: true,
		IgnoreUnknownValues: true,
	}
}

func (b *Builder) jobId(objectName string) string {
	id := "load_" + jobIdSanitizer.ReplaceAllString(objectName, "_")
	if b.randomSuffix {
		id += "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	return id
}
