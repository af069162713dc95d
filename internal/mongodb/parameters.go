// Package mongodb shapes crawl records into documents and writes them to MongoDB.
package mongodb

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/config"
)

// Defaults for the parameter bundle.
const (
	DefaultPort = 27017
	// DefaultMaxContentSizeBytes matches the MongoDB document size cap.
	DefaultMaxContentSizeBytes = 16 * 1024 * 1024
	DefaultBulkDocNumber       = 100
	DefaultContentPrefix       = "content"
	DefaultCuriPrefix          = "curi"

	// ContinueOnError is kept for configuration compatibility but is not
	// consulted anywhere: every per-URI failure is already non-fatal.
	ContinueOnError = true
)

// Field identifies one column of the document schema.
type Field int

// Schema fields in the order they are usually emitted.
const (
	FieldURL Field = iota
	FieldIP
	FieldIsSeed
	FieldPathFromSeed
	FieldVia
	FieldProcessedAt
	FieldRequest
	FieldHeaders
	FieldRawData
)

var allFields = []Field{
	FieldURL, FieldIP, FieldIsSeed, FieldPathFromSeed, FieldVia,
	FieldProcessedAt, FieldRequest, FieldHeaders, FieldRawData,
}

// leaf returns the default column leaf and whether it lives under the content prefix.
func (f Field) leaf() (string, bool) {
	switch f {
	case FieldHeaders:
		return "headers", true
	case FieldRawData:
		return "raw_data", true
	case FieldIP:
		return "ip", false
	case FieldPathFromSeed:
		return "path-from-seed", false
	case FieldIsSeed:
		return "is-seed", false
	case FieldVia:
		return "via", false
	case FieldURL:
		return "url", false
	case FieldRequest:
		return "request", false
	case FieldProcessedAt:
		return "processed_at", false
	default:
		return "", false
	}
}

func (f Field) String() string {
	leaf, _ := f.leaf()
	return leaf
}

// Parameters is the bundle every Writer reads. It is mutable until Freeze is
// called, which the pool does before constructing the first writer.
type Parameters struct {
	mu     sync.RWMutex
	frozen bool

	host       string
	port       uint16
	database   string
	collection string
	user       string
	password   string

	contentPrefix string
	curiPrefix    string
	fieldNames    map[Field]string

	removeMissingPages  bool
	separateHeaders     bool
	maxContentSizeBytes int
	bulkDocNumber       int
	timeZone            string
	serializer          Serializer
}

// NewParameters returns a bundle populated with defaults.
func NewParameters() *Parameters {
	return &Parameters{
		port:                DefaultPort,
		contentPrefix:       DefaultContentPrefix,
		curiPrefix:          DefaultCuriPrefix,
		fieldNames:          make(map[Field]string),
		removeMissingPages:  true,
		separateHeaders:     true,
		maxContentSizeBytes: DefaultMaxContentSizeBytes,
		bulkDocNumber:       DefaultBulkDocNumber,
	}
}

// ParametersFromConfig builds a bundle from the service configuration.
func ParametersFromConfig(cfg config.MongoConfig) (*Parameters, error) {
	p := NewParameters()
	setters := []func() error{
		func() error { return p.SetHost(cfg.Host) },
		func() error { return p.SetPort(cfg.Port) },
		func() error { return p.SetDatabase(cfg.Database) },
		func() error { return p.SetCollection(cfg.Collection) },
		func() error { return p.SetUser(cfg.User) },
		func() error { return p.SetPassword(cfg.Password) },
		func() error { return p.SetRemoveMissingPages(cfg.RemoveMissingPages) },
		func() error { return p.SetSeparateHeaders(cfg.SeparateHeaders) },
		func() error { return p.SetMaxContentSizeBytes(cfg.MaxContentSizeBytes) },
		func() error { return p.SetBulkDocNumber(cfg.BulkDocNumber) },
		func() error { return p.SetTimeZone(cfg.TimeZone) },
	}
	if cfg.ContentPrefix != "" {
		setters = append(setters, func() error { return p.SetContentPrefix(cfg.ContentPrefix) })
	}
	if cfg.CuriPrefix != "" {
		setters = append(setters, func() error { return p.SetCuriPrefix(cfg.CuriPrefix) })
	}
	for name, value := range cfg.Fields {
		field, ok := FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown schema field %q", name)
		}
		setters = append(setters, func() error { return p.SetFieldName(field, value) })
	}
	for _, set := range setters {
		if err := set(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// FieldByName resolves a configuration key such as "raw_data" or "path-from-seed".
func FieldByName(name string) (Field, bool) {
	for _, f := range allFields {
		leaf, _ := f.leaf()
		if leaf == name {
			return f, true
		}
	}
	switch name {
	case "rawData", "raw-data":
		return FieldRawData, true
	case "pathFromSeed", "path_from_seed":
		return FieldPathFromSeed, true
	case "isSeed", "is_seed":
		return FieldIsSeed, true
	case "processedAt", "processed-at":
		return FieldProcessedAt, true
	}
	return 0, false
}

// Freeze makes the bundle read-only.
func (p *Parameters) Freeze() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
}

// Frozen reports whether Freeze was called.
func (p *Parameters) Frozen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen
}

func (p *Parameters) set(apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrParametersFrozen
	}
	apply()
	return nil
}

func (p *Parameters) required(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: a %s was never set; define one before reading it", ErrConfigUnset, name)
	}
	return value, nil
}

// Host returns the MongoDB host or ErrConfigUnset.
func (p *Parameters) Host() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.required("host", p.host)
}

// SetHost sets the MongoDB host.
func (p *Parameters) SetHost(host string) error {
	return p.set(func() { p.host = host })
}

// Port returns the MongoDB port.
func (p *Parameters) Port() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.port
}

// SetPort sets the MongoDB port; zero restores the default.
func (p *Parameters) SetPort(port uint16) error {
	if port == 0 {
		port = DefaultPort
	}
	return p.set(func() { p.port = port })
}

// Database returns the target database or ErrConfigUnset.
func (p *Parameters) Database() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.required("database", p.database)
}

// SetDatabase sets the target database.
func (p *Parameters) SetDatabase(database string) error {
	return p.set(func() { p.database = database })
}

// Collection returns the target collection or ErrConfigUnset.
func (p *Parameters) Collection() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.required("collection", p.collection)
}

// SetCollection sets the target collection.
func (p *Parameters) SetCollection(collection string) error {
	return p.set(func() { p.collection = collection })
}

// User returns the auth user; empty disables authentication.
func (p *Parameters) User() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user
}

// SetUser sets the auth user.
func (p *Parameters) SetUser(user string) error {
	return p.set(func() { p.user = user })
}

// Password returns the auth password.
func (p *Parameters) Password() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.password
}

// SetPassword sets the auth password.
func (p *Parameters) SetPassword(password string) error {
	return p.set(func() { p.password = password })
}

// Address returns host:port, or ErrConfigUnset when the host is empty.
func (p *Parameters) Address() (string, error) {
	host, err := p.Host()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(int(p.Port()))), nil
}

// URI returns the driver connection string.
func (p *Parameters) URI() (string, error) {
	addr, err := p.Address()
	if err != nil {
		return "", err
	}
	return "mongodb://" + addr, nil
}

// ContentPrefix returns the prefix of the content columns.
func (p *Parameters) ContentPrefix() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contentPrefix
}

// SetContentPrefix changes the prefix of every content column not set explicitly.
func (p *Parameters) SetContentPrefix(prefix string) error {
	return p.set(func() { p.contentPrefix = prefix })
}

// CuriPrefix returns the prefix of the URI metadata columns.
func (p *Parameters) CuriPrefix() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.curiPrefix
}

// SetCuriPrefix changes the prefix of every metadata column not set explicitly.
func (p *Parameters) SetCuriPrefix(prefix string) error {
	return p.set(func() { p.curiPrefix = prefix })
}

// FieldName returns the document key used for f.
func (p *Parameters) FieldName(f Field) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if name, ok := p.fieldNames[f]; ok {
		return name
	}
	leaf, content := f.leaf()
	if content {
		return p.contentPrefix + ":" + leaf
	}
	return p.curiPrefix + ":" + leaf
}

// SetFieldName overrides the prefix-derived key of f.
func (p *Parameters) SetFieldName(f Field, name string) error {
	return p.set(func() { p.fieldNames[f] = name })
}

// SchemaFields returns every configured, non-empty document key.
func (p *Parameters) SchemaFields() []string {
	names := make([]string, 0, len(allFields))
	for _, f := range allFields {
		if name := p.FieldName(f); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// RemoveMissingPages reports whether 404 and 410 responses are dropped.
func (p *Parameters) RemoveMissingPages() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.removeMissingPages
}

// SetRemoveMissingPages toggles dropping of 404 and 410 responses.
func (p *Parameters) SetRemoveMissingPages(v bool) error {
	return p.set(func() { p.removeMissingPages = v })
}

// SeparateHeaders reports whether response headers get their own column.
func (p *Parameters) SeparateHeaders() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.separateHeaders
}

// SetSeparateHeaders toggles the header/body split.
func (p *Parameters) SetSeparateHeaders(v bool) error {
	return p.set(func() { p.separateHeaders = v })
}

// MaxContentSizeBytes is the payload cap; zero or negative disables it.
func (p *Parameters) MaxContentSizeBytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxContentSizeBytes
}

// SetMaxContentSizeBytes sets the payload cap.
func (p *Parameters) SetMaxContentSizeBytes(n int) error {
	return p.set(func() { p.maxContentSizeBytes = n })
}

// BulkDocNumber is a batching hint. Writers still insert one document per call.
func (p *Parameters) BulkDocNumber() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bulkDocNumber
}

// SetBulkDocNumber sets the batching hint; zero or negative restores the default.
func (p *Parameters) SetBulkDocNumber(n int) error {
	if n <= 0 {
		n = DefaultBulkDocNumber
	}
	return p.set(func() { p.bulkDocNumber = n })
}

// TimeZone returns the zone used for the processed-at column; empty disables it.
func (p *Parameters) TimeZone() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeZone
}

// SetTimeZone sets the zone for the processed-at column.
func (p *Parameters) SetTimeZone(zone string) error {
	return p.set(func() { p.timeZone = zone })
}

// Serializer returns the payload transform, or nil.
func (p *Parameters) Serializer() Serializer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serializer
}

// SetSerializer installs a payload transform.
func (p *Parameters) SetSerializer(s Serializer) error {
	return p.set(func() { p.serializer = s })
}
